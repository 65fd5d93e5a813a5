package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/pvconverge/pvconverge/pkg/artifact"
	"github.com/pvconverge/pvconverge/pkg/config"
	"github.com/pvconverge/pvconverge/pkg/engine"
	"github.com/pvconverge/pvconverge/pkg/platform"
	"github.com/pvconverge/pvconverge/pkg/policy"
	"github.com/pvconverge/pvconverge/pkg/stores"
	"github.com/pvconverge/pvconverge/pkg/telemetry"
	"github.com/pvconverge/pvconverge/pkg/terraform"
	"github.com/pvconverge/pvconverge/pkg/transports/ssh"
)

// runtime bundles everything a connected command needs: the loaded
// document, telemetry, the SSH transport, and the wired pipeline.
type runtime struct {
	doc       *config.Document
	tel       *telemetry.Telemetry
	transport *ssh.Client
	pipeline  *engine.Pipeline
	store     stores.Store
	engine    *terraform.Engine
}

// loadDocument loads and validates the collected resources document.
func loadDocument() (*config.Document, error) {
	loader := config.NewLoader()
	doc, err := loader.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := loader.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// newTelemetry builds the telemetry bundle from the global flags.
func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return telemetry.NewTelemetry(cfg)
}

// setupRuntime wires the full pipeline: telemetry, document, transport,
// apply engine, artifact store, run history, and policies. The returned
// context carries the telemetry bundle.
func setupRuntime(ctx context.Context) (*runtime, context.Context, error) {
	tel, err := newTelemetry()
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = tel.WithContext(ctx)

	doc, err := loadDocument()
	if err != nil {
		return nil, ctx, err
	}

	sshCfg := ssh.DefaultConfig(doc.Connection.Host, doc.Connection.User)
	if doc.Connection.Port != 0 {
		sshCfg.Port = doc.Connection.Port
	}
	sshCfg.PrivateKeyPath = doc.Connection.CredentialPath

	transport, err := ssh.NewClient(sshCfg)
	if err != nil {
		return nil, ctx, err
	}
	if err := transport.Connect(ctx); err != nil {
		return nil, ctx, engine.NewConnectivityError(
			fmt.Sprintf("failed to connect to %s", sshCfg.Address()), err)
	}

	tfCfg := terraform.DefaultConfig()
	applyEngine := terraform.New(tfCfg, transport)

	artifacts, err := artifact.NewStore(dataDir)
	if err != nil {
		_ = transport.Disconnect()
		return nil, ctx, err
	}

	var store stores.Store
	if !noHistory {
		sqlStore, err := stores.NewSQLiteStore(stores.Config{
			Path: filepath.Join(dataDir, "pvconverge.db"),
		})
		if err == nil {
			err = sqlStore.Init(ctx)
		}
		if err == nil {
			err = sqlStore.Migrate(ctx)
		}
		if err != nil {
			tel.Logger.WithError(err).Warn("run history unavailable")
		} else {
			store = sqlStore
		}
	}

	policies, err := policy.NewEngine(tel.Logger.Zerolog())
	if err != nil {
		_ = transport.Disconnect()
		return nil, ctx, err
	}
	if policyDir != "" {
		if err := policies.LoadDir(policyDir); err != nil {
			_ = transport.Disconnect()
			return nil, ctx, err
		}
	}

	pipeline, err := engine.NewPipeline(engine.PipelineConfig{
		Engine:             applyEngine,
		Querier:            platform.NewQuery(transport),
		Uploader:           transport,
		Policies:           policies,
		Artifacts:          artifacts,
		Store:              store,
		RemoteArtifactPath: path.Join(tfCfg.WorkDir, artifact.FileName),
	})
	if err != nil {
		_ = transport.Disconnect()
		return nil, ctx, err
	}

	return &runtime{
		doc:       doc,
		tel:       tel,
		transport: transport,
		pipeline:  pipeline,
		store:     store,
		engine:    applyEngine,
	}, ctx, nil
}

// close releases the runtime's resources.
func (r *runtime) close(ctx context.Context) {
	if r.transport != nil {
		_ = r.transport.Disconnect()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
	if r.tel != nil {
		_ = r.tel.Shutdown(ctx)
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
