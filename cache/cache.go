package cache

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const passKeyPrefix = "gatepass:"

// Service represents a redis backed PassStore. Every user owns a set of pass
// ids so that consumption is a single atomic SPOP.
type Service struct {
	pool   *redis.Pool
	ttl    time.Duration
	logger *logrus.Entry
}

// NewPool creates a redis connection pool for the given address
func NewPool(address string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     10,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", address)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// NewService create and initilize a new redis pass store. A zero ttl keeps
// passes until they are consumed.
func NewService(pool *redis.Pool, ttl time.Duration, logger *logrus.Entry) *Service {
	return &Service{
		pool:   pool,
		ttl:    ttl,
		logger: logger,
	}
}

// Ping verifies the redis connection
func (svc *Service) Ping(ctx context.Context) error {
	conn, err := svc.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

func passKey(userID string) string {
	return passKeyPrefix + userID
}

// Grant issues a new pass to the user
func (svc *Service) Grant(ctx context.Context, userID string) (string, error) {
	conn, err := svc.pool.GetContext(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	passID := uuid.NewString()
	key := passKey(userID)
	if err := conn.Send("MULTI"); err != nil {
		return "", err
	}
	if err := conn.Send("SADD", key, passID); err != nil {
		return "", err
	}
	if svc.ttl > 0 {
		if err := conn.Send("PEXPIRE", key, svc.ttl.Milliseconds()); err != nil {
			return "", err
		}
	}
	if _, err := redis.Values(conn.Do("EXEC")); err != nil {
		return "", err
	}
	svc.logger.WithFields(logrus.Fields{
		"userID": userID,
		"passID": passID,
	}).Debug("Gate pass granted")
	return passID, nil
}

// Consume pops exactly one pass of the user
func (svc *Service) Consume(ctx context.Context, userID string) (bool, error) {
	conn, err := svc.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	passID, err := redis.String(conn.Do("SPOP", passKey(userID)))
	if err == redis.ErrNil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	svc.logger.WithFields(logrus.Fields{
		"userID": userID,
		"passID": passID,
	}).Debug("Gate pass consumed")
	return true, nil
}

// Count returns the number of passes the user holds
func (svc *Service) Count(ctx context.Context, userID string) (int, error) {
	conn, err := svc.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return redis.Int(conn.Do("SCARD", passKey(userID)))
}
