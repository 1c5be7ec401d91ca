package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"dify2ollama/internal/core"
	"dify2ollama/internal/util"
)

// FileStorage persists request stats as an indented JSON file.
type FileStorage struct {
	filePath string
}

// NewFileStorage creates a file store; an empty path uses core.StatsFilePath.
func NewFileStorage(filePath string) *FileStorage {
	if filePath == "" {
		filePath = core.StatsFilePath
	}
	return &FileStorage{filePath: filePath}
}

// SaveStats writes stats through a temp file so readers never see a torn file.
func (fs *FileStorage) SaveStats(stats *core.RequestStats) error {
	data, err := sonic.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(fs.filePath), filepath.Base(fs.filePath)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, core.FilePermissionReadWrite); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, fs.filePath)
}

// LoadStats reads stats; a missing file yields empty stats.
func (fs *FileStorage) LoadStats() (*core.RequestStats, error) {
	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptyStats(), nil
		}
		return nil, err
	}
	return decodeStats(data)
}

// Close is a no-op for file storage.
func (fs *FileStorage) Close() error {
	return nil
}

// RedisStorage persists request stats under a single Redis key.
type RedisStorage struct {
	client *redis.Client
	key    string
}

// NewRedisStorage stores stats under key using an existing client. The client
// is not closed by Close.
func NewRedisStorage(client *redis.Client, key string) *RedisStorage {
	if key == "" {
		key = core.StatsRedisKey
	}
	return &RedisStorage{client: client, key: key}
}

// SaveStats implements core.StorageInterface.
func (rs *RedisStorage) SaveStats(stats *core.RequestStats) error {
	data, err := util.MarshalJSON(stats)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), core.RedisOpTimeout)
	defer cancel()
	return rs.client.Set(ctx, rs.key, data, 0).Err()
}

// LoadStats implements core.StorageInterface.
func (rs *RedisStorage) LoadStats() (*core.RequestStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), core.RedisOpTimeout)
	defer cancel()

	val, err := rs.client.Get(ctx, rs.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return emptyStats(), nil
		}
		return nil, err
	}
	return decodeStats(val)
}

// Close is a no-op; the shared client is closed by its owner.
func (rs *RedisStorage) Close() error {
	return nil
}

func emptyStats() *core.RequestStats {
	return &core.RequestStats{RequestHistory: []core.RequestRecord{}}
}

func decodeStats(data []byte) (*core.RequestStats, error) {
	var stats core.RequestStats
	if err := sonic.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	if stats.RequestHistory == nil {
		stats.RequestHistory = []core.RequestRecord{}
	}
	return &stats, nil
}

// ConnectRedis parses url and pings the server. It returns (nil, nil) when url
// is empty.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, core.RedisOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// InitStorage picks Redis when a client is available, the stats file otherwise.
func InitStorage(client *redis.Client, logger core.Logger) core.StorageInterface {
	if client != nil {
		logger.Info("Using Redis storage for stats")
		return NewRedisStorage(client, core.StatsRedisKey)
	}
	logger.Info("Using file storage for stats (%s)", core.StatsFilePath)
	return NewFileStorage(core.StatsFilePath)
}
