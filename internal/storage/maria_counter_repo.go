package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/annel0/mmo-fauna/internal/entity"
	_ "github.com/go-sql-driver/mysql"
)

// MariaCounterRepo реализует CounterRepo для базы данных MariaDB/MySQL.
// Использует таблицу player_counters, одна строка на пару (игрок, счётчик).
type MariaCounterRepo struct {
	db      *sql.DB
	counter string
}

// NewMariaCounterRepo создает новый репозиторий счётчиков для MariaDB.
// Автоматически создает таблицу, если она не существует.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
//	counter - имя счётчика (например, "animal_trust")
func NewMariaCounterRepo(dsn string, counter string) (*MariaCounterRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaCounterRepo{db: db, counter: counter}

	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	return repo, nil
}

// createTable создает таблицу player_counters, если она не существует.
func (r *MariaCounterRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS player_counters (
			player_id  CHAR(36)    NOT NULL,
			name       VARCHAR(64) NOT NULL,
			value      BIGINT      NOT NULL DEFAULT 0,
			updated_at TIMESTAMP   DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE   CURRENT_TIMESTAMP,
			PRIMARY KEY (player_id, name)
		) ENGINE=InnoDB
	`

	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы player_counters: %w", err)
	}
	return nil
}

const upsertCounter = `
	INSERT INTO player_counters (player_id, name, value)
	VALUES (?, ?, ?)
	ON DUPLICATE KEY UPDATE
		value = VALUES(value),
		updated_at = CURRENT_TIMESTAMP
`

// Save сохраняет значение счётчика.
// Использует INSERT ... ON DUPLICATE KEY UPDATE для обновления существующих записей.
func (r *MariaCounterRepo) Save(ctx context.Context, player entity.ID, value int64) error {
	if err := validID(player); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, upsertCounter, player.String(), r.counter, value); err != nil {
		return fmt.Errorf("ошибка сохранения счётчика для игрока %s: %w", player, err)
	}
	return nil
}

// Load загружает значение счётчика.
func (r *MariaCounterRepo) Load(ctx context.Context, player entity.ID) (int64, bool, error) {
	if err := validID(player); err != nil {
		return 0, false, err
	}

	query := `SELECT value FROM player_counters WHERE player_id = ? AND name = ?`

	var v int64
	err := r.db.QueryRowContext(ctx, query, player.String(), r.counter).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ошибка загрузки счётчика для игрока %s: %w", player, err)
	}
	return v, true, nil
}

// Delete удаляет счётчик игрока.
func (r *MariaCounterRepo) Delete(ctx context.Context, player entity.ID) error {
	if err := validID(player); err != nil {
		return err
	}

	query := `DELETE FROM player_counters WHERE player_id = ? AND name = ?`

	result, err := r.db.ExecContext(ctx, query, player.String(), r.counter)
	if err != nil {
		return fmt.Errorf("ошибка удаления счётчика для игрока %s: %w", player, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("счётчик игрока %s: %w", player, ErrNotFound)
	}
	return nil
}

// BatchSave сохраняет несколько счётчиков в одной транзакции.
func (r *MariaCounterRepo) BatchSave(ctx context.Context, values map[entity.ID]int64) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertCounter)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for player, v := range values {
		if err := validID(player); err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, player.String(), r.counter, v); err != nil {
			return fmt.Errorf("ошибка сохранения счётчика для игрока %s в batch: %w", player, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Close закрывает соединение с базой данных.
func (r *MariaCounterRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
