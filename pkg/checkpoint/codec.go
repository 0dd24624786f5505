package checkpoint

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
)

// Codec is an alias for [persist.Codec].
type Codec = persist.Codec

// defaultCodec returns codec, or gob when nil.
func defaultCodec(codec Codec) Codec {
	if codec == nil {
		return persist.NewGobCodec()
	}

	return codec
}

// classify maps decode failures to ErrUnreadable and leaves other errors alone.
func classify(err error) error {
	if errors.Is(err, persist.ErrDecode) {
		return fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	return err
}
