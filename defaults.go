package sourcecache

// coalesce returns def when v is T's zero value, otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
