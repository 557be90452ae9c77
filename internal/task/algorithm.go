package task

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when an algorithm override is inconsistent.
var ErrInvalidConfig = errors.New("task: invalid algorithm config")

// Algorithm override keys understood by the remote model.
const (
	KeySTTNNeighborStride   = "STTN_NEIGHBOR_STRIDE"
	KeySTTNReferenceLength  = "STTN_REFERENCE_LENGTH"
	KeySTTNMaxLoadNum       = "STTN_MAX_LOAD_NUM"
	KeyProPainterMaxLoadNum = "PROPAINTER_MAX_LOAD_NUM"
)

const (
	defaultSTTNNeighborStride  = 5
	defaultSTTNReferenceLength = 10
	defaultSTTNMaxLoadNum      = 50

	// maxConfigValue bounds every numeric override so products stay in range.
	maxConfigValue = 1 << 16
)

// ValidateConfig checks per-task overrides for the chosen algorithm.
// Missing keys take the remote model defaults. STTN must be able to load
// every reference frame it strides over; ProPainter must load at least one.
func ValidateConfig(alg Algorithm, cfg map[string]any) error {
	switch alg {
	case AlgorithmSTTN:
		stride, err := intValue(cfg, KeySTTNNeighborStride, defaultSTTNNeighborStride)
		if err != nil {
			return err
		}
		length, err := intValue(cfg, KeySTTNReferenceLength, defaultSTTNReferenceLength)
		if err != nil {
			return err
		}
		maxLoad, err := intValue(cfg, KeySTTNMaxLoadNum, defaultSTTNMaxLoadNum)
		if err != nil {
			return err
		}
		if stride < 1 || length < 1 {
			return fmt.Errorf("%w: %s and %s must be positive", ErrInvalidConfig, KeySTTNNeighborStride, KeySTTNReferenceLength)
		}
		if maxLoad < stride*length {
			return fmt.Errorf("%w: %s (%d) must be >= %s * %s (%d)",
				ErrInvalidConfig, KeySTTNMaxLoadNum, maxLoad, KeySTTNNeighborStride, KeySTTNReferenceLength, stride*length)
		}
	case AlgorithmProPainter:
		maxLoad, err := intValue(cfg, KeyProPainterMaxLoadNum, 1)
		if err != nil {
			return err
		}
		if maxLoad < 1 {
			return fmt.Errorf("%w: %s must be >= 1", ErrInvalidConfig, KeyProPainterMaxLoadNum)
		}
	}
	return nil
}

// intValue reads a whole number in [-maxConfigValue, maxConfigValue] from a
// decoded JSON map.
func intValue(cfg map[string]any, key string, def int) (int, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def, nil
	}
	var n float64
	switch x := v.(type) {
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case float64:
		n = x
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidConfig, key)
	}
	if n < -maxConfigValue || n > maxConfigValue {
		return 0, fmt.Errorf("%w: %s must be at most %d", ErrInvalidConfig, key, maxConfigValue)
	}
	if n != math.Trunc(n) {
		return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidConfig, key)
	}
	return int(n), nil
}
