package db

import (
	"context"
	"fmt"
	"log"
	"seq_miner/internal/config"
	"seq_miner/internal/models"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB keeps kept sequences and run history next to the FASTA output.
type MongoDB struct {
	client     *mongo.Client
	database   *mongo.Database
	sequences  *mongo.Collection
	runHistory *mongo.Collection
}

func NewMongoDB(ctx context.Context, cfg config.DBConfig) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	database := client.Database(cfg.Database)

	d := &MongoDB{
		client:     client,
		database:   database,
		sequences:  database.Collection(cfg.Collections.Sequences),
		runHistory: database.Collection(cfg.Collections.RunHistory),
	}

	d.createIndexes(ctx)

	return d, nil
}

func (d *MongoDB) createIndexes(ctx context.Context) {
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "accession", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := d.sequences.Indexes().CreateOne(ctx, indexModel); err != nil {
		log.Printf("⚠️ can't create accession index: %v", err)
	}

	indexModel = mongo.IndexModel{
		Keys: bson.D{{Key: "entry_id", Value: 1}, {Key: "last_scraped", Value: -1}},
	}
	if _, err := d.sequences.Indexes().CreateOne(ctx, indexModel); err != nil {
		log.Printf("⚠️ can't create entry_id index: %v", err)
	}

	indexModel = mongo.IndexModel{
		Keys: bson.D{{Key: "entry_id", Value: 1}, {Key: "started_at", Value: -1}},
	}
	if _, err := d.runHistory.Indexes().CreateOne(ctx, indexModel); err != nil {
		log.Printf("⚠️ can't create run history index: %v", err)
	}
}

// SaveSequence upserts by accession. first_scraped is only set on insert
// and scraped_count grows by one per save.
func (d *MongoDB) SaveSequence(ctx context.Context, doc *models.SequenceDocument) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var updateDoc bson.M
	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal sequence %s: %w", doc.Accession, err)
	}
	if err := bson.Unmarshal(data, &updateDoc); err != nil {
		return fmt.Errorf("unmarshal sequence %s: %w", doc.Accession, err)
	}

	delete(updateDoc, "_id")
	delete(updateDoc, "scraped_count")
	delete(updateDoc, "first_scraped")

	update := bson.M{
		"$set":         updateDoc,
		"$setOnInsert": bson.M{"_id": doc.Accession, "first_scraped": doc.FirstScraped},
		"$inc":         bson.M{"scraped_count": 1},
	}

	opts := options.Update().SetUpsert(true)
	_, err = d.sequences.UpdateOne(ctx, bson.M{"accession": doc.Accession}, update, opts)
	return err
}

func (d *MongoDB) GetSequence(ctx context.Context, accession string) (*models.SequenceDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc models.SequenceDocument
	err := d.sequences.FindOne(ctx, bson.M{"accession": accession}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *MongoDB) SaveRunHistory(ctx context.Context, history *models.RunHistory) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := d.runHistory.InsertOne(ctx, history)
	return err
}

// GetEntryStats aggregates the stored sequences of one InterPro entry.
func (d *MongoDB) GetEntryStats(ctx context.Context, entryID string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "entry_id", Value: entryID}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_sequences", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg_length", Value: bson.D{{Key: "$avg", Value: "$length"}}},
			{Key: "min_distance", Value: bson.D{{Key: "$min", Value: "$distance"}}},
			{Key: "max_distance", Value: bson.D{{Key: "$max", Value: "$distance"}}},
		}}},
	}

	cursor, err := d.sequences.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []map[string]interface{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return make(map[string]interface{}), nil
	}

	return results[0], nil
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}
