package redis

import (
	"errors"
	"fmt"

	"github.com/folkastream/folka/storage"

	redis "gopkg.in/redis.v5"
)

// RedisBuilder builds redis storage. Each table partition is stored in the
// hash "<namespace>:<topic>:<partition>".
func RedisBuilder(client *redis.Client, namespace string) storage.Builder {
	return func(topic string, partition int32) (storage.Storage, error) {
		if namespace == "" {
			return nil, errors.New("missing namespace for redis storage")
		}
		return New(client, fmt.Sprintf("%s:%s:%d", namespace, topic, partition))
	}
}
