package runtime

import (
	"fmt"

	"github.com/clawpen/clawpen/internal/clawpen/validate"
)

// VerifySpec re-asserts the final guards on a container spec before it is
// handed to an engine. The lifecycle manager performs the authoritative
// validation; this check exists so that no backend can be driven with an
// unvalidated spec through some other path.
//
// allowedMountBases is the set of host directories mount sources must
// resolve under. All failures wrap ErrInvalidSpec.
func VerifySpec(spec Spec, allowedMountBases []string) error {
	if spec.AgentID == "" {
		return fmt.Errorf("%w: agent ID is empty", ErrInvalidSpec)
	}
	if err := validate.Name(spec.AgentID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := validate.Name(spec.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if spec.Image == "" {
		return fmt.Errorf("%w: image is empty", ErrInvalidSpec)
	}

	if len(spec.Env) > validate.MaxEnvVarCount {
		return fmt.Errorf("%w: more than %d environment variables", ErrInvalidSpec, validate.MaxEnvVarCount)
	}
	for k, v := range spec.Env {
		if err := validate.EnvKey(k); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		if err := validate.EnvValue(v); err != nil {
			return fmt.Errorf("%w: env %s: %v", ErrInvalidSpec, k, err)
		}
	}

	if len(spec.Mounts) > validate.MaxMountCount {
		return fmt.Errorf("%w: more than %d mounts", ErrInvalidSpec, validate.MaxMountCount)
	}
	for _, m := range spec.Mounts {
		if err := validate.MountSource(m.Source, allowedMountBases); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		if err := validate.MountTarget(m.Target); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	}

	if len(spec.Ports) > validate.MaxPortCount {
		return fmt.Errorf("%w: more than %d ports", ErrInvalidSpec, validate.MaxPortCount)
	}
	for _, p := range spec.Ports {
		if err := validate.Port(p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	}

	if spec.MemoryMB != 0 {
		if err := validate.MemoryMB(spec.MemoryMB); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	}
	if spec.CPUCores != 0 {
		if err := validate.CPUCores(spec.CPUCores); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	}
	return nil
}
