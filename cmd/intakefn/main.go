// Command intakefn hosts the intake as two Cloud Functions: Tick, an HTTP
// function for the scheduler, and IngestObject, a CloudEvent function bound
// to object finalize events on the uploads bucket.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/joseph-ayodele/requirements-intake/internal/app"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/trigger"
)

var (
	once     sync.Once
	instance *app.App
	tick     http.Handler
	objects  *trigger.ObjectHandler
	initErr  error
)

func init() {
	functions.HTTP("Tick", tickHandler)
	functions.CloudEvent("IngestObject", ingestObject)
}

func setup(ctx context.Context) error {
	once.Do(func() {
		cfg, err := common.LoadConfig(os.Getenv("INTAKE_CONFIG"))
		if err != nil {
			initErr = err
			return
		}
		logger := common.NewLogger(os.Stdout, cfg.Log.Level, "json")
		slog.SetDefault(logger)

		instance, err = app.Build(ctx, cfg, logger, app.Options{})
		if err != nil {
			logger.Error("function.init.failed", "error", err)
			initErr = err
			return
		}
		tick = instance.Server().TickHandler()
		objects = trigger.NewObjectHandler(instance.Ingest, cfg.Storage.UploadPrefix, logger)
	})
	return initErr
}

func tickHandler(w http.ResponseWriter, r *http.Request) {
	if err := setup(context.Background()); err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	tick.ServeHTTP(w, r)
}

func ingestObject(ctx context.Context, e event.Event) error {
	if err := setup(context.Background()); err != nil {
		return err
	}
	return objects.Handle(ctx, e)
}

// main serves the registered functions locally; deployments load them
// through the framework's own entrypoint.
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := funcframework.Start(port); err != nil {
		slog.Error("function.start.failed", "error", err)
		os.Exit(1)
	}
}
