package shared

// PointerTo returns a pointer to a copy of v, for literal optional fields.
func PointerTo[T any](v T) *T {
	return &v
}
