package world

import (
	"math"
	"math/rand"
	"sort"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/vec"
	"github.com/aquilax/go-perlin"
)

// SpawnKind вид, который может появиться при заселении мира
type SpawnKind struct {
	Species     entity.Species
	MaxHealth   float64
	MaxAgeTicks uint64
}

// Spawned существо, созданное спавнером
type Spawned struct {
	Creature    entity.Creature
	MaxAgeTicks uint64
}

// Spawner расставляет стада по карте плотности шума Перлина
type Spawner struct {
	noise  *perlin.Perlin
	rng    *rand.Rand
	world  string
	extent float64
	kinds  []SpawnKind
}

const (
	spawnGridStep   = 8.0
	minHerdSize     = 2
	maxHerdSize     = 6
	herdSpread      = 4.0
	noiseScale      = 0.05
	densityBaseline = 0.5
)

// NewSpawner создаёт спавнер. extent полуразмер квадрата заселения вокруг начала координат.
func NewSpawner(world string, seed int64, extent float64, kinds []SpawnKind) *Spawner {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав

	sorted := append([]SpawnKind(nil), kinds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Species < sorted[j].Species })

	return &Spawner{
		noise:  perlin.NewPerlin(alpha, beta, n, seed),
		rng:    rand.New(rand.NewSource(seed)),
		world:  world,
		extent: extent,
		kinds:  sorted,
	}
}

// Density значение шума в точке, от 0 до 1
func (s *Spawner) Density(x, z float64) float64 {
	v := (s.noise.Noise2D(x*noiseScale, z*noiseScale) + 1.0) / 2.0
	return math.Max(0, math.Min(1, v))
}

// Populate заселяет мир примерно population существами, группируя их в стада одного вида.
// Центры стад выбираются в узлах сетки с наибольшей плотностью.
func (s *Spawner) Populate(w *SimWorld, population int) []Spawned {
	if population <= 0 || len(s.kinds) == 0 {
		return nil
	}

	type site struct {
		x, z, density float64
	}
	var sites []site
	for x := -s.extent; x <= s.extent; x += spawnGridStep {
		for z := -s.extent; z <= s.extent; z += spawnGridStep {
			if d := s.Density(x, z); d >= densityBaseline {
				sites = append(sites, site{x: x, z: z, density: d})
			}
		}
	}
	if len(sites) == 0 {
		sites = append(sites, site{density: 1})
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].density > sites[j].density })

	out := make([]Spawned, 0, population)
	for i := 0; len(out) < population; i++ {
		center := sites[i%len(sites)]
		kind := s.kinds[int(center.density*1000)%len(s.kinds)]

		size := minHerdSize + s.rng.Intn(maxHerdSize-minHerdSize+1)
		if rest := population - len(out); size > rest {
			size = rest
		}

		for j := 0; j < size; j++ {
			pos := vec.Vec3Float{
				X: center.x + (s.rng.Float64()*2-1)*herdSpread,
				Y: 64,
				Z: center.z + (s.rng.Float64()*2-1)*herdSpread,
			}
			age := uint64(0)
			if kind.MaxAgeTicks >= 10 {
				age = uint64(s.rng.Int63n(int64(kind.MaxAgeTicks) * 9 / 10))
			}
			c := w.Spawn(kind.Species, entity.Location{World: s.world, Pos: pos}, kind.MaxHealth, age)
			out = append(out, Spawned{Creature: c, MaxAgeTicks: kind.MaxAgeTicks})
		}
	}
	return out
}
