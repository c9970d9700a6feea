package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDatabase backs the job-metadata/item sink demoed by this
// engine's tests.
type MongoDatabase struct {
	uri            string
	dbName         string
	client         *mongo.Client
	connected      bool
	connectionTime time.Duration
	lastError      string
	queryCount     int64
	errorCount     int64
	mutex          sync.RWMutex
}

func NewMongo(uri, dbName string) *MongoDatabase {
	return &MongoDatabase{uri: uri, dbName: dbName}
}

func (m *MongoDatabase) Connect(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.uri))
	if err != nil {
		m.lastError = err.Error()
		m.errorCount++
		return fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		m.lastError = err.Error()
		m.errorCount++
		return fmt.Errorf("mongo ping: %w", err)
	}

	m.client = client
	m.connected = true
	m.connectionTime = time.Since(start)
	m.lastError = ""
	return nil
}

func (m *MongoDatabase) Disconnect(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.connected || m.client == nil {
		return nil
	}
	if err := m.client.Disconnect(ctx); err != nil {
		m.lastError = err.Error()
		m.errorCount++
		return err
	}
	m.connected = false
	m.client = nil
	return nil
}

func (m *MongoDatabase) HealthCheck(ctx context.Context) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.connected || m.client == nil {
		return fmt.Errorf("mongo: not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	return nil
}

func (m *MongoDatabase) GetClient() interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.client
}

func (m *MongoDatabase) Type() DatabaseType { return TypeMongoDB }

func (m *MongoDatabase) Stats() DatabaseStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return DatabaseStats{
		Type:              TypeMongoDB,
		Connected:         m.connected,
		ConnectionTime:    m.connectionTime,
		TotalQueries:      m.queryCount,
		ErrorCount:        m.errorCount,
		LastError:         m.lastError,
		MaxConnections:    1,
		ActiveConnections: 1,
	}
}

// Collection returns a handle to m.dbName.collectionName for a pipeline
// sink to write items into.
func (m *MongoDatabase) Collection(collectionName string) *mongo.Collection {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.client == nil {
		return nil
	}
	return m.client.Database(m.dbName).Collection(collectionName)
}
