package merkletrie

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/viper"
)

const (
	// BranchBits - ширина ветвления (ниббл)
	BranchBits = 4
	// BranchFactor - количество детей у узла
	BranchFactor = 1 << BranchBits

	// HashBytes - размер хеша узла (blake3-256)
	HashBytes = 32
)

var (
	ErrBadConfig     = errors.New("merkletrie: bad config")
	ErrBadBitmapSize = errors.New("merkletrie: branch bitmap must be 2 bytes")
)

// Hash - закешированный Merkle-хеш узла
type Hash [HashBytes]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// PrefixLenBits - количество старших бит ключа, фиксирующих домен узла
type PrefixLenBits uint16

// Value - интерфейс значения в листе.
// Кодирование значения делегировано внешнему формату сериализации:
// байты, которые отдает AppendBytes, идут в хеш как есть.
type Value interface {
	// DataLen возвращает длину сериализованного значения
	DataLen() int

	// AppendBytes дописывает сериализованное значение в buf
	AppendBytes(buf []byte) []byte
}

// Config содержит параметры конфигурации дерева
type Config struct {
	Workers                  int    `mapstructure:"workers"`                     // Воркеры для normalize/merge/accumulate
	GCCollectInterval        uint64 `mapstructure:"gc-collect-interval"`         // Каждые N retire пытаемся сдвинуть эпоху
	AccumulateTasksPerWorker int    `mapstructure:"accumulate-tasks-per-worker"` // Сколько поддеревьев на воркера при accumulate
	SerialArenaCapacity      int    `mapstructure:"serial-arena-capacity"`       // Стартовая емкость арены serial-дерева
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 64 {
		workers = 64
	}

	return &Config{
		Workers:                  workers,
		GCCollectInterval:        1024,
		AccumulateTasksPerWorker: 4,
		SerialArenaCapacity:      1024,
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrBadConfig, c.Workers)
	}
	if c.GCCollectInterval == 0 {
		return fmt.Errorf("%w: gc-collect-interval must be positive", ErrBadConfig)
	}
	if c.AccumulateTasksPerWorker <= 0 {
		return fmt.Errorf("%w: accumulate-tasks-per-worker must be positive, got %d", ErrBadConfig, c.AccumulateTasksPerWorker)
	}
	if c.SerialArenaCapacity < 0 {
		return fmt.Errorf("%w: serial-arena-capacity must not be negative, got %d", ErrBadConfig, c.SerialArenaCapacity)
	}
	return nil
}

// ConfigFromViper читает секцию конфигурации хоста поверх значений по умолчанию
func ConfigFromViper(v *viper.Viper, key string) (*Config, error) {
	cfg := DefaultConfig()
	if v == nil {
		return cfg, nil
	}

	sub := v
	if key != "" {
		sub = v.Sub(key)
		if sub == nil {
			return cfg, nil
		}
	}

	if err := sub.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode trie config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefaults подставляет значения по умолчанию вместо нулевых полей
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}

	out := *c
	if out.Workers <= 0 {
		out.Workers = def.Workers
	}
	if out.GCCollectInterval == 0 {
		out.GCCollectInterval = def.GCCollectInterval
	}
	if out.AccumulateTasksPerWorker <= 0 {
		out.AccumulateTasksPerWorker = def.AccumulateTasksPerWorker
	}
	if out.SerialArenaCapacity < 0 {
		out.SerialArenaCapacity = def.SerialArenaCapacity
	}
	return &out
}
