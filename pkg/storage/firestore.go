package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/smdmonitor/smdmonitor/pkg/log"
	"github.com/smdmonitor/smdmonitor/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	gridUpdatesCollection = "grid_updates"
	fieldDeliveryDate     = "delivery_date"
	fieldDeliveryHour     = "delivery_hour"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Each grid update is one document in the "grid_updates"
// collection keyed by delivery date and hour.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID may be empty when it can be detected.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func gridUpdateDocID(date string, hour string) string {
	h, err := strconv.Atoi(strings.TrimSpace(hour))
	if err != nil {
		return date + "_" + hour
	}
	return fmt.Sprintf("%s_%02d", date, h)
}

func queryErr(err error, what string) error {
	if status.Code(err) == codes.FailedPrecondition {
		return fmt.Errorf("failed to query %s (is there an index on %s?): %w", what, fieldDeliveryDate, err)
	}
	return fmt.Errorf("failed to query %s: %w", what, err)
}

// GetGridUpdates retrieves grid updates whose delivery date falls within
// the range. Delivery dates are stored as YYYY-MM-DD strings so the range
// compares lexicographically.
func (f *FirestoreProvider) GetGridUpdates(ctx context.Context, r types.DateRange) ([]types.RawRow, error) {
	coll := f.client.Collection(gridUpdatesCollection)
	q := coll.Query
	if r.IsSet() {
		q = coll.
			Where(fieldDeliveryDate, ">=", r.Start.Format(types.DateLayout)).
			Where(fieldDeliveryDate, "<=", r.End.Format(types.DateLayout)).
			OrderBy(fieldDeliveryDate, firestore.Asc)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	rows := []types.RawRow{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, queryErr(err, "grid updates")
		}
		data := doc.Data()
		values := make([]any, len(types.Columns))
		for i, c := range types.Columns {
			values[i] = data[string(c)]
		}
		row := rawRow(data[fieldDeliveryDate], data[fieldDeliveryHour], values)
		if row.DeliveryDate == "" {
			log.Ctx(ctx).WarnContext(ctx, "grid update doc missing delivery date", slog.String("docID", doc.Ref.ID))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (f *FirestoreProvider) boundaryDate(ctx context.Context, dir firestore.Direction) (string, bool, error) {
	iter := f.client.Collection(gridUpdatesCollection).
		OrderBy(fieldDeliveryDate, dir).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return "", false, nil
	}
	if err != nil {
		return "", false, queryErr(err, "date bounds")
	}
	v, err := doc.DataAt(fieldDeliveryDate)
	if err != nil {
		return "", false, fmt.Errorf("grid update doc %s missing %s: %w", doc.Ref.ID, fieldDeliveryDate, err)
	}
	s, ok := stringValue(v)
	return s, ok, nil
}

// GetDateBounds returns the earliest and latest stored delivery dates.
func (f *FirestoreProvider) GetDateBounds(ctx context.Context) (types.DateRange, error) {
	start, ok, err := f.boundaryDate(ctx, firestore.Asc)
	if err != nil || !ok {
		return types.DateRange{}, err
	}
	end, ok, err := f.boundaryDate(ctx, firestore.Desc)
	if err != nil || !ok {
		return types.DateRange{}, err
	}

	var r types.DateRange
	if r.Start, err = types.ParseDate(start); err != nil {
		return types.DateRange{}, err
	}
	if r.End, err = types.ParseDate(end); err != nil {
		return types.DateRange{}, err
	}
	return r, nil
}

// InsertGridUpdates upserts one document per row. Numeric strings are stored
// as numbers; anything else is stored verbatim so readers see what the source
// wrote.
func (f *FirestoreProvider) InsertGridUpdates(ctx context.Context, rows []types.RawRow) error {
	coll := f.client.Collection(gridUpdatesCollection)
	for _, row := range rows {
		data := map[string]interface{}{
			fieldDeliveryDate: row.DeliveryDate,
		}
		if h, err := strconv.Atoi(strings.TrimSpace(row.DeliveryHour)); err == nil {
			data[fieldDeliveryHour] = h
		} else {
			data[fieldDeliveryHour] = row.DeliveryHour
		}
		for _, c := range types.Columns {
			v, ok := row.Values[c]
			if !ok {
				data[string(c)] = nil
				continue
			}
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				data[string(c)] = n
			} else {
				data[string(c)] = v
			}
		}
		docID := gridUpdateDocID(row.DeliveryDate, row.DeliveryHour)
		if _, err := coll.Doc(docID).Set(ctx, data); err != nil {
			return fmt.Errorf("failed to upsert grid update %s: %w", docID, err)
		}
	}
	return nil
}
