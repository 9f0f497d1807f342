package core

import (
	"context"
	"os"

	"compliancecore/internal/catalog"
	"compliancecore/internal/evidence"
)

// OpenService wires a Service from environment configuration: the persistent
// store, catalog file, evidence driver, code counters, audit sink and
// recorder batching. opts are applied after the environment-derived options.
// Close releases everything opened here.
//
//	COMPLIANCECORE_CATALOG_PATH: catalog YAML (default built-in catalog)
//	COMPLIANCECORE_STORE_TIMEOUT: per-call store timeout (default 10s)
func OpenService(ctx context.Context, opts ...ServiceOption) (svc *Service, err error) {
	var closers []closeFunc
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](ctx)
		}
	}()

	cat, err := catalog.Load(os.Getenv("COMPLIANCECORE_CATALOG_PATH"))
	if err != nil {
		return nil, err
	}
	recCfg, err := RecorderConfigFromEnv()
	if err != nil {
		return nil, err
	}
	timeout, err := StoreTimeoutFromEnv()
	if err != nil {
		return nil, err
	}

	store, err := OpenPersistentStore(ctx, NewDefaultRulesEngine())
	if err != nil {
		return nil, err
	}
	closers = append(closers, func(context.Context) error { return store.Close() })

	ev, err := evidence.Open(ctx)
	if err != nil {
		return nil, err
	}
	gen, genClose, err := OpenCodeGenerator(ctx, store)
	if err != nil {
		return nil, err
	}
	if genClose != nil {
		closers = append(closers, genClose)
	}
	sink, sinkClose, err := OpenAuditSink(ctx, store)
	if err != nil {
		return nil, err
	}
	if sinkClose != nil {
		closers = append(closers, sinkClose)
	}

	static := catalog.NewStatic(cat)
	base := []ServiceOption{
		WithCatalog(static, static),
		WithEvidenceStore(ev),
		WithCodeGenerator(gen),
		WithAuditSink(sink),
		WithRecorderConfig(recCfg),
		WithStoreTimeout(timeout),
	}
	for _, c := range closers {
		base = append(base, withCloser(c))
	}
	svc = NewService(store, append(base, opts...)...)
	attrs := []any{"evidence", string(ev.Driver())}
	if engine := extractRulesEngine(store); engine != nil {
		attrs = append(attrs, "rules", engine.Rules())
	}
	svc.logger.Info("inspection service opened", attrs...)
	return svc, nil
}
