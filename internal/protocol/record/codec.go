package record

// Limits bounds counts and address lengths accepted from either side.
type Limits struct {
	MaxCount      uint32
	MaxAddressLen uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxCount:      1024,
		MaxAddressLen: 128,
	}
}

// Codec flattens and reconstructs records. The zero value uses UTF-16LE text
// and DefaultLimits.
type Codec struct {
	Text   TextEncoding
	Limits Limits
}

func DefaultCodec() Codec {
	return Codec{Text: TextUTF16LE, Limits: DefaultLimits()}
}

// WithDefaults fills unset fields from DefaultCodec.
func (c Codec) WithDefaults() Codec {
	def := DefaultCodec()
	if !c.Text.valid() {
		c.Text = def.Text
	}
	if c.Limits.MaxCount == 0 {
		c.Limits.MaxCount = def.Limits.MaxCount
	}
	if c.Limits.MaxAddressLen == 0 {
		c.Limits.MaxAddressLen = def.Limits.MaxAddressLen
	}
	return c
}

// Flatten encodes r with DefaultCodec.
func Flatten(r *Record) ([]byte, error) {
	return DefaultCodec().Flatten(r)
}

// Reconstruct decodes buf with DefaultCodec limits.
func Reconstruct(buf []byte) (*Record, error) {
	return DefaultCodec().Reconstruct(buf)
}
