package embed

// FastEmbedOptions configures the local fastembed model.
type FastEmbedOptions struct {
	Model     string // e.g. "fast-bge-small-en-v1.5"
	CacheDir  string
	MaxLength int // token limit, 0 = library default
	BatchSize int
}

func defaultFastEmbedOptions() *FastEmbedOptions {
	return &FastEmbedOptions{
		Model:     "fast-bge-small-en-v1.5",
		CacheDir:  ".fastembed",
		BatchSize: 64,
	}
}
