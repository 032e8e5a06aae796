package common

// ResolveSelector parses selector and resolves it against the whole of doc.
func ResolveSelector(doc Document, selector string) ([]NodeID, error) {
	sel, err := NewSelector(selector)
	if err != nil {
		return nil, err
	}
	return newResolver(doc).resolve(sel, doc.Root())
}
