package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/dandantas/lms-worker/internal/bulkupload"
	"github.com/dandantas/lms-worker/internal/bus"
	"github.com/dandantas/lms-worker/internal/cassandra"
	"github.com/dandantas/lms-worker/internal/config"
	"github.com/dandantas/lms-worker/internal/database"
	"github.com/dandantas/lms-worker/internal/model"
)

var jobIDFlag = &cli.StringFlag{
	Name:     "job-id",
	Aliases:  []string{"j"},
	Usage:    "bulk upload job id",
	Required: true,
}

func TRIGGER() *cli.Command {
	return &cli.Command{
		Name:   "trigger",
		Usage:  "publish a trigger message for an existing job",
		Action: Trigger,
		Flags:  []cli.Flag{jobIDFlag},
	}
}

func STATUS() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "print the current state of a job",
		Action: Status,
		Flags:  []cli.Flag{jobIDFlag},
	}
}

func SUBMIT() *cli.Command {
	return &cli.Command{
		Name:   "submit",
		Usage:  "create a job from a JSON array of rows and trigger it",
		Action: Submit,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "path to the rows file, - for stdin",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "object-type",
				Usage: "object type of the rows",
				Value: model.ObjectTypeLocation,
			},
			&cli.StringFlag{
				Name:  "created-by",
				Usage: "user id recorded as the job creator",
			},
			&cli.BoolFlag{
				Name:  "no-trigger",
				Usage: "only store the job",
			},
		},
	}
}

func Trigger(c *cli.Context) error {
	cfg := config.Load()
	return publishTrigger(cfg, c.String("job-id"))
}

func Status(c *cli.Context) error {
	cfg := config.Load()
	store, closeStore, err := openStore(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	job, err := store.Get(c.Context, c.String("job-id"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, job.ToStatus())
}

func Submit(c *cli.Context) error {
	cfg := config.Load()

	rows, err := readRows(c.String("file"))
	if err != nil {
		return err
	}
	job := newJob(uuid.NewString(), c.String("object-type"), c.String("created-by"), rows, time.Now().UTC())

	store, closeStore, err := openStore(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Put(c.Context, job); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "created job %s with %d rows\n", job.ID, len(rows))

	if c.Bool("no-trigger") {
		return nil
	}
	return publishTrigger(cfg, job.ID)
}

func publishTrigger(cfg *config.Config, jobID string) error {
	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	msg := model.TriggerMessage{JobID: jobID, CorrelationID: uuid.NewString()}
	if err := nc.PublishJSON(cfg.BulkUploadSubject, msg); err != nil {
		return err
	}
	if err := nc.Conn().Flush(); err != nil {
		return fmt.Errorf("failed to flush trigger: %w", err)
	}
	fmt.Printf("triggered job %s (correlation id %s)\n", jobID, msg.CorrelationID)
	return nil
}

// openStore connects to the configured job store
func openStore(ctx context.Context, cfg *config.Config) (bulkupload.JobStore, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if cfg.JobStoreBackend == config.StoreCassandra {
		session, err := cassandra.Connect(cassandra.Config{
			Hosts:      cfg.CassandraHosts,
			Keyspace:   cfg.CassandraKeyspace,
			Timeout:    cfg.CassandraTimeout,
			NumRetries: cfg.CassandraRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		return cassandra.NewJobStore(session, cfg.CassandraTimeout), session.Close, nil
	}

	db, err := database.Connect(ctx, cfg.MongoOptions())
	if err != nil {
		return nil, nil, err
	}
	return database.NewBulkUploadRepository(db), func() { db.Disconnect(context.Background()) }, nil
}

func readRows(path string) ([]model.Row, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open rows file: %w", err)
		}
		defer f.Close()
		r = f
	}
	return decodeRows(r)
}

func decodeRows(r io.Reader) ([]model.Row, error) {
	var rows []model.Row
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("rows must be a JSON array of objects: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("rows file is empty")
	}
	return rows, nil
}

func newJob(id, objectType, createdBy string, rows []model.Row, now time.Time) *model.BulkUpload {
	return &model.BulkUpload{
		ID:         id,
		ObjectType: objectType,
		Status:     model.JobStatusCreated,
		Payload:    rows,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
