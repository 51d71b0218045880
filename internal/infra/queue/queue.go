// Package queue содержит драйверы очереди задач пайплайна.
package queue

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stardiscover/internal/domain"
)

// New создаёт очередь по имени драйвера: "redis" или "rabbitmq".
func New(driver, rabbitURL, key string, redisClient *redis.Client) (domain.JobQueue, error) {
	switch driver {
	case "rabbitmq":
		return NewRabbitJobQueue(rabbitURL, key)
	case "redis", "":
		if redisClient == nil {
			return nil, errors.New("не указан адрес Redis (REDIS_ADDR)")
		}
		return NewRedisJobQueue(redisClient, key), nil
	default:
		return nil, fmt.Errorf("неизвестный драйвер очереди: %q", driver)
	}
}
