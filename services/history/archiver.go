// Package history archives completed cycle results to MongoDB for later
// inspection. The archive is optional: without MONGODB_URI every call is a
// no-op and the service runs on its relational store alone.
package history

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rsi-alert-service/services/alerts"
)

const (
	mongoDBName          = "rsi_alerts"
	cycleCollection      = "cycle_results"
	connectTimeout       = 30 * time.Second
	operationTimeout     = 10 * time.Second
	defaultRecentResults = 20
)

// cycleDocument is the archived form of a cycle result.
type cycleDocument struct {
	Trigger    string              `bson:"trigger"`
	Region     string              `bson:"region,omitempty"`
	GuildID    int64               `bson:"guild_id"`
	ScanDate   string              `bson:"scan_date"`
	StartedAt  time.Time           `bson:"started_at"`
	FinishedAt time.Time           `bson:"finished_at"`
	Result     *alerts.CycleResult `bson:"result"`
	ArchivedAt time.Time           `bson:"archived_at"`
}

// Archiver writes cycle results to MongoDB.
type Archiver struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	uriSet      bool
	lastError   string
}

// NewArchiver initializes the archiver from MONGODB_URI. A missing URI
// disables archiving without error.
func NewArchiver() (*Archiver, error) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		log.Println("MONGODB_URI not set, cycle archive disabled")
		return &Archiver{
			uriSet:    false,
			lastError: "MONGODB_URI environment variable not set",
		}, nil
	}

	a := &Archiver{uriSet: true}
	if err := a.connect(uri); err != nil {
		// Archiving is best-effort: a failed connection degrades, not
		// aborts, the service.
		log.Printf("Cycle archive unavailable: %v", err)
	}
	return a, nil
}

func (a *Archiver) connect(uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(connectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		a.setError(fmt.Sprintf("connect: %v", err))
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		a.setError(fmt.Sprintf("ping: %v", err))
		client.Disconnect(context.Background())
		return err
	}

	a.mu.Lock()
	a.client = client
	a.database = client.Database(mongoDBName)
	a.isConnected = true
	a.lastError = ""
	a.mu.Unlock()

	log.Println("Cycle archive connected to MongoDB")
	return nil
}

func (a *Archiver) setError(msg string) {
	a.mu.Lock()
	a.lastError = msg
	a.isConnected = false
	a.mu.Unlock()
}

// Enabled reports whether archiving is configured and connected.
func (a *Archiver) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.uriSet && a.isConnected
}

// Status returns a short status line for health endpoints.
func (a *Archiver) Status() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch {
	case !a.uriSet:
		return "disabled"
	case a.isConnected:
		return "connected"
	default:
		return "error: " + a.lastError
	}
}

// Archive stores a finished cycle result. Failures are logged, never fatal.
func (a *Archiver) Archive(ctx context.Context, result *alerts.CycleResult) {
	if !a.Enabled() {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	doc := cycleDocument{
		Trigger:    result.Trigger,
		Region:     result.Region,
		GuildID:    result.GuildID,
		ScanDate:   result.ScanDate,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Result:     result,
		ArchivedAt: time.Now().UTC(),
	}

	a.mu.RLock()
	coll := a.database.Collection(cycleCollection)
	a.mu.RUnlock()

	if _, err := coll.InsertOne(opCtx, doc); err != nil {
		log.Printf("Failed to archive cycle result for guild %d: %v", result.GuildID, err)
	}
}

// Recent returns the most recent archived cycle results for a guild,
// newest first. guildID 0 means all guilds.
func (a *Archiver) Recent(ctx context.Context, guildID int64, limit int) ([]*alerts.CycleResult, error) {
	if !a.Enabled() {
		return nil, fmt.Errorf("cycle archive not available: %s", a.Status())
	}
	if limit <= 0 {
		limit = defaultRecentResults
	}

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	filter := bson.M{}
	if guildID != 0 {
		filter["guild_id"] = guildID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "finished_at", Value: -1}}).
		SetLimit(int64(limit))

	a.mu.RLock()
	coll := a.database.Collection(cycleCollection)
	a.mu.RUnlock()

	cursor, err := coll.Find(opCtx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query cycle archive: %w", err)
	}
	defer cursor.Close(opCtx)

	var results []*alerts.CycleResult
	for cursor.Next(opCtx) {
		var doc cycleDocument
		if err := cursor.Decode(&doc); err != nil {
			log.Printf("Failed to decode archived cycle: %v", err)
			continue
		}
		results = append(results, doc.Result)
	}
	return results, cursor.Err()
}

// Close disconnects from MongoDB.
func (a *Archiver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.client.Disconnect(ctx); err != nil {
			log.Printf("Error disconnecting cycle archive: %v", err)
		}
		a.isConnected = false
	}
}
