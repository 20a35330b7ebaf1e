package descriptor

// Defaults returns the descriptor engine's default configuration. The
// descriptor itself has no sane default — it must be supplied — so it is
// left empty; Config.Validate (see internal/config) rejects an empty
// descriptor at startup.
func Defaults() Config {
	return Config{
		Descriptor: "",
		Network:    Mainnet,
		GapLimit:   defaultGapLimit,
	}
}

const defaultGapLimit = 20
