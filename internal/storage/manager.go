package storage

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/execx"
	"github.com/jbweber/kiln/internal/logging"
)

// Kinds lists the supported storage kinds.
var Kinds = []Kind{KindLVM, KindDirectory}

// New returns the unit implementation for kind.
// Unknown kinds return an error wrapping errdefs.ErrUnsupportedStorageKind.
func New(kind Kind, spec Spec, runner execx.Runner, log logrus.FieldLogger) (Unit, error) {
	log = logging.OrDiscard(log)

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	switch kind {
	case KindLVM:
		if spec.VolumeGroup == "" {
			return nil, errdefs.ConfigInvalid("storage unit %s: lvm requires a volume group", spec.Name)
		}
		if spec.Size <= 0 {
			return nil, errdefs.ConfigInvalid("storage unit %s: size must be > 0", spec.Name)
		}
		if spec.DevDir == "" {
			spec.DevDir = DefaultDevDir
		}
		if runner == nil {
			return nil, fmt.Errorf("storage unit %s: lvm requires a command runner", spec.Name)
		}
		return &LVM{base: base{spec: spec}, runner: runner, log: log}, nil

	case KindDirectory:
		if spec.BaseDir == "" {
			return nil, errdefs.ConfigInvalid("storage unit %s: filesystem storage requires a base directory", spec.Name)
		}
		return &Directory{base: base{spec: spec}, log: log}, nil

	default:
		return nil, fmt.Errorf("%w: %q", errdefs.ErrUnsupportedStorageKind, kind)
	}
}
