package jobs

import (
	"context"
	"strings"

	"jobhost/internal/platform"
	"jobhost/internal/task/attr"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

const (
	ParamFacade      = "Facade"
	ParamMetadataKey = "Metadata Key"
)

var noopAttributes = []attr.Spec{
	attr.Must(attr.OptionalNoDefault(ParamFacade)),
	attr.Must(attr.OptionalNoDefault(ParamMetadataKey)),
}

// Noop logs its parameters. With Facade set it also opens and closes that
// facade, and with Metadata Key set it reads the key through a metadata
// session, which makes it a cheap wiring check for a host.
type Noop struct{ job.Base }

func (*Noop) Attributes() []attr.Spec { return noopAttributes }

func (*Noop) OnExecution(ctx context.Context, t *job.Task) error {
	t.Logger().Info("noop executed", logx.String("params", t.Params().Dump()))

	if kind := strings.TrimSpace(t.Params().String(ParamFacade)); kind != "" {
		h, err := t.Service(platform.Kind(strings.ToLower(kind)))
		if err != nil {
			return err
		}
		t.Logger().Debug("facade opened", logx.String("facade", string(h.Kind())))
		if err := h.Close(); err != nil {
			return job.General("close facade", err)
		}
	}

	if key := strings.TrimSpace(t.Params().String(ParamMetadataKey)); key != "" {
		ms, err := t.MetadataSession(ctx)
		if err != nil {
			return err
		}
		defer ms.Close()
		v, ok, err := ms.Get(ctx, key)
		if err != nil {
			return job.General("metadata", err)
		}
		if !ok {
			return job.NotFound("metadata", "key "+key)
		}
		t.Logger().Info("metadata value", logx.String("key", key), logx.String("value", v))
	}
	return nil
}
