package origin

import "context"

// ISOWrapped decorates an Origin whose underlying bytes are an ISO 9660
// or UDF optical-disc image, translating [0, fileLength) coordinates in
// the inner media stream to absolute offsets within the image at
// innerOffset.
//
// This is the "wrapped-container" tagged alternative from the capability
// set: composed over a base Origin by decoration, not inheritance.
type ISOWrapped struct {
	base        Origin
	innerOffset int64
	innerLength int64
}

// WrapISO returns an Origin presenting [0, innerLength) of base's bytes
// starting at innerOffset.
func WrapISO(base Origin, innerOffset, innerLength int64) *ISOWrapped {
	return &ISOWrapped{base: base, innerOffset: innerOffset, innerLength: innerLength}
}

func (w *ISOWrapped) Probe(ctx context.Context) (Info, error) {
	info, err := w.base.Probe(ctx)
	if err != nil {
		return Info{}, err
	}
	info.ContentLength = w.innerLength
	return info, nil
}

func (w *ISOWrapped) FetchRange(ctx context.Context, start, endInclusive int64) ([]byte, error) {
	return w.base.FetchRange(ctx, start+w.innerOffset, endInclusive+w.innerOffset)
}

func (w *ISOWrapped) RefreshAuth(ctx context.Context) error {
	return w.base.RefreshAuth(ctx)
}

func (w *ISOWrapped) UpdateAuth(newURL string, newHeaders map[string]string) {
	w.base.UpdateAuth(newURL, newHeaders)
}
