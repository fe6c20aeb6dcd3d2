package block

// Append appends one block to dst.
func Append(dst []byte, layout Layout, sort, typ byte, data []byte) []byte {
	size := layout.HeaderSize()
	n := len(dst)
	dst = append(dst, make([]byte, size)...)
	layout.PutHeader(dst[n:n+size], Header{Length: len(data), Sort: sort, Type: typ})
	return append(dst, data...)
}

// AppendValue appends an ordinary string value.
func AppendValue(dst []byte, layout Layout, data []byte) []byte {
	return Append(dst, layout, SortData, TypeString, data)
}

// AppendEOD appends the end-of-data sentinel.
func AppendEOD(dst []byte, layout Layout) []byte {
	return Append(dst, layout, SortEOD, TypeNone, nil)
}

// AppendError appends an error sentinel carrying msg.
func AppendError(dst []byte, layout Layout, msg string) []byte {
	return Append(dst, layout, SortError, TypeString, []byte(msg))
}
