package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sahilchouksey/study-ingest/app"
	"github.com/sahilchouksey/study-ingest/database"
	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "study-ingest",
		Usage: "Document ingestion, embedding and retrieval service",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "worker",
						Usage: "Also consume the task queue and run cron jobs in this process",
					},
				},
			},
			{
				Name:   "worker",
				Usage:  "Consume the task queue and run cron jobs",
				Action: workerCommand,
			},
			{
				Name:   "migrate",
				Usage:  "Create or update database tables",
				Action: migrateCommand,
			},
			{
				Name:   "seed",
				Usage:  "Create a bucket with courses",
				Action: seedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "bucket",
						Usage: "Bucket name",
						Value: "default",
					},
					&cli.Int64Flag{
						Name:  "max-size",
						Usage: "Bucket quota in bytes",
						Value: database.DefaultBucketMaxSize,
					},
					&cli.StringSliceFlag{
						Name:    "course",
						Aliases: []string{"c"},
						Usage:   "Course name, repeatable",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Process one pending task synchronously",
				ArgsUsage: "<task-id>",
				Action:    ingestCommand,
			},
			{
				Name:   "watch",
				Usage:  "Queue files dropped into <dir>/<courseId>/",
				Action: watchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "dir",
						Usage:   "Drop folder to watch",
						EnvVars: []string{"WATCH_DIR"},
					},
				},
			},
			{
				Name:   "token",
				Usage:  "Mint a service token for API callers",
				Action: tokenCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "service",
						Aliases:  []string{"s"},
						Usage:    "Name of the calling service",
						Required: true,
					},
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withContainer builds the full dependency graph around fn
func withContainer(fn func(ctx context.Context, c *app.Container) error) error {
	env, logger, err := app.Bootstrap()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	container, err := app.NewContainer(ctx, env, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	return fn(ctx, container)
}

func serveCommand(c *cli.Context) error {
	withWorker := c.Bool("worker")
	return withContainer(func(ctx context.Context, container *app.Container) error {
		return container.Serve(ctx, withWorker)
	})
}

func workerCommand(_ *cli.Context) error {
	return withContainer(func(ctx context.Context, container *app.Container) error {
		return container.RunWorker(ctx)
	})
}

func ingestCommand(c *cli.Context) error {
	taskID := c.Args().First()
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}
	return withContainer(func(ctx context.Context, container *app.Container) error {
		return container.IngestTask(ctx, taskID)
	})
}

func watchCommand(c *cli.Context) error {
	dir := c.String("dir")
	return withContainer(func(ctx context.Context, container *app.Container) error {
		return container.Watch(ctx, dir)
	})
}

func migrateCommand(_ *cli.Context) error {
	env, logger, err := app.Bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := app.OpenDatabase(env, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.HealthCheck(); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	logger.Info("migrations completed")
	return nil
}

func seedCommand(c *cli.Context) error {
	env, logger, err := app.Bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := app.OpenDatabase(env, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	bucket, err := database.NewSeeder(store.GetDB(), logger).SeedAll(database.SeedOptions{
		BucketName:  c.String("bucket"),
		MaxSize:     c.Int64("max-size"),
		CourseNames: c.StringSlice("course"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("bucket %s (%s)\n", bucket.ID, bucket.Name)
	for _, course := range bucket.Courses {
		fmt.Printf("  course %s (%s)\n", course.ID, course.Name)
	}
	return nil
}

func tokenCommand(c *cli.Context) error {
	env, _, err := app.Bootstrap()
	if err != nil {
		return err
	}
	if env.JWT_SECRET == "" {
		return fmt.Errorf("JWT_SECRET environment variable is not set")
	}

	token, _, err := app.NewJWTManager(env).GenerateServiceToken(c.String("service"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
