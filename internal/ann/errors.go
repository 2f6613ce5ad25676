package ann

import (
	"fmt"

	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
)

func kindOf(p interface{ Kind() core.Kind }) core.Kind {
	if p == nil {
		return core.KindUnknown
	}
	return p.Kind()
}

func errUnknownParams(op string, params IndexParams) error {
	return qerrors.NewInvalidParameters(op, "unsupported build parameter type %T", params)
}

func errUnknownKind(op string, kind core.Kind) error {
	return qerrors.NewInvalidParameters(op, "unknown index kind %s", kind)
}

func errParamMismatch(op string, want core.Kind, got interface{ Kind() core.Kind }) error {
	return qerrors.NewInvalidParameters(op, "parameters tagged %s, index is %s", kindOf(got), want).
		WithContext("params_type", fmt.Sprintf("%T", got))
}

func errExtendUnsupported() error {
	return qerrors.NewUnsupported("ann.Extend", "graph indexes cannot be extended; rebuild instead").
		WithContext("kind", core.KindGraph.String())
}
