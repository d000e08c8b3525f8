package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/mmo-fauna/internal/engine"
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/herd"
	"github.com/annel0/mmo-fauna/internal/logging"
	"github.com/annel0/mmo-fauna/internal/memory"
	"github.com/annel0/mmo-fauna/internal/middleware"
	"github.com/annel0/mmo-fauna/internal/vec"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Fauna часть движка, которую читает отладочный API.
type Fauna interface {
	Count() int
	Describe(id entity.ID) (engine.CreatureView, bool)
	ThreatLevel(id, player entity.ID) memory.ThreatLevel
	IsDangerous(id entity.ID, loc entity.Location) bool
	DangerSeverity(id entity.ID, loc entity.Location) float64
	Herd(hid uuid.UUID) (herd.Info, bool)
	PlayerTrust(ctx context.Context, player entity.ID) (int64, error)
}

// RestServer отладочный REST API только для чтения
type RestServer struct {
	router  *gin.Engine
	server  *http.Server
	fauna   Fauna
	port    string
	stats   *StatsCollector
	logger  *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     string               // порт для запуска сервера
	Fauna    Fauna                // движок фауны
	Registry *prometheus.Registry // nil означает дефолтный регистр
}

// GenericResponse общий конверт ответа
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// HerdView снимок стада для ответа
type HerdView struct {
	ID         string      `json:"id"`
	Species    string      `json:"species"`
	World      string      `json:"world"`
	Leader     string      `json:"leader"`
	Members    []entity.ID `json:"members"`
	Panicking  bool        `json:"panicking"`
	PanicUntil *time.Time  `json:"panic_until,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("fauna_debug"))

	logger := logging.GetComponentLogger("API")
	router.Use(middleware.NewRequestLogger(logger).Handler())

	var reg prometheus.Registerer
	var gatherer prometheus.Gatherer
	if config.Registry != nil {
		reg, gatherer = config.Registry, config.Registry
	}
	promMw := middleware.NewPrometheusMiddleware("fauna_debug", reg)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, gatherer)

	server := &RestServer{
		router:  router,
		fauna:   config.Fauna,
		port:    config.Port,
		stats:   NewStatsCollector(gatherer),
		logger:  logger,
	}

	server.server = &http.Server{
		Addr:              config.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	server.setupRoutes()

	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)
		api.GET("/creatures/:id", rs.handleCreature)
		api.GET("/creatures/:id/threat/:player", rs.handleThreat)
		api.GET("/creatures/:id/danger", rs.handleDanger)
		api.GET("/herds/:id", rs.handleHerd)
		api.GET("/players/:id/trust", rs.handleTrust)
	}
}

// Handler http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler { return rs.router }

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: msg})
}

func respondOK(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: msg, Data: data})
}

func parseID(c *gin.Context, param string) (entity.ID, bool) {
	id, err := entity.ParseID(c.Param(param))
	if err != nil {
		badRequest(c, fmt.Sprintf("Неверный идентификатор %s", param))
		return entity.Nil, false
	}
	return id, true
}

// handleHealth состояние процесса
func (rs *RestServer) handleHealth(c *gin.Context) {
	proc := rs.stats.Process()
	resp := gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
		"uptime": proc.Uptime,
		"rss_mb": fmt.Sprintf("%.2f", proc.RSSMB),
	}
	if rs.fauna != nil {
		resp["creatures"] = rs.fauna.Count()
	}
	c.JSON(http.StatusOK, resp)
}

// handleStats сводка движка и процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	eng, err := rs.stats.Engine()
	if err != nil {
		rs.logger.Warn("engine stats: %v", err)
	}
	respondOK(c, "Статистика получена", gin.H{
		"engine":  eng,
		"process": rs.stats.Process(),
	})
}

func (rs *RestServer) handleCreature(c *gin.Context) {
	id, valid := parseID(c, "id")
	if !valid {
		return
	}
	view, found := rs.fauna.Describe(id)
	if !found {
		notFound(c, "Существо не зарегистрировано")
		return
	}
	respondOK(c, "Существо найдено", view)
}

func (rs *RestServer) handleThreat(c *gin.Context) {
	id, valid := parseID(c, "id")
	if !valid {
		return
	}
	player, valid := parseID(c, "player")
	if !valid {
		return
	}
	if _, found := rs.fauna.Describe(id); !found {
		notFound(c, "Существо не зарегистрировано")
		return
	}
	respondOK(c, "Отношение к игроку", gin.H{
		"creature": id,
		"player":   player,
		"level":    rs.fauna.ThreatLevel(id, player).String(),
	})
}

func (rs *RestServer) handleDanger(c *gin.Context) {
	id, valid := parseID(c, "id")
	if !valid {
		return
	}
	world := c.Query("world")
	if world == "" {
		badRequest(c, "Не указан мир")
		return
	}
	var coords [3]float64
	for i, key := range []string{"x", "y", "z"} {
		v, err := strconv.ParseFloat(c.Query(key), 64)
		if err != nil {
			badRequest(c, fmt.Sprintf("Неверная координата %s", key))
			return
		}
		coords[i] = v
	}
	if _, found := rs.fauna.Describe(id); !found {
		notFound(c, "Существо не зарегистрировано")
		return
	}

	loc := entity.Location{World: world, Pos: vec.Vec3Float{X: coords[0], Y: coords[1], Z: coords[2]}}
	respondOK(c, "Память об опасности", gin.H{
		"dangerous": rs.fauna.IsDangerous(id, loc),
		"severity":  rs.fauna.DangerSeverity(id, loc),
	})
}

func (rs *RestServer) handleHerd(c *gin.Context) {
	hid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Неверный идентификатор стада")
		return
	}
	info, found := rs.fauna.Herd(hid)
	if !found {
		notFound(c, "Стадо не найдено")
		return
	}
	view := HerdView{
		ID:        info.ID.String(),
		Species:   string(info.Species),
		World:     info.World,
		Leader:    info.Leader.String(),
		Members:   info.Members,
		Panicking: info.Panicking,
	}
	if info.Panicking {
		until := info.PanicUntil
		view.PanicUntil = &until
	}
	respondOK(c, "Стадо найдено", view)
}

func (rs *RestServer) handleTrust(c *gin.Context) {
	player, valid := parseID(c, "id")
	if !valid {
		return
	}
	trust, err := rs.fauna.PlayerTrust(c.Request.Context(), player)
	if err != nil {
		rs.logger.Error("trust for %s: %v", player, err)
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Хранилище доверия недоступно",
		})
		return
	}
	respondOK(c, "Доверие игрока", gin.H{"player": player, "trust": trust, "max": engine.MaxTrust})
}

// Start запускает сервер; блокирует до остановки.
func (rs *RestServer) Start() error {
	rs.logger.Info("Debug API слушает %s", rs.port)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug api: %w", err)
	}
	return nil
}

// Stop плавно останавливает сервер.
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}
