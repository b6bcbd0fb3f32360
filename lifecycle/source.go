package lifecycle

import "fmt"

// SourceKind identifies where an install/update's archive bytes come from.
type SourceKind string

const (
	SourceLocalArchive SourceKind = "LocalArchive"
	SourceURL          SourceKind = "Url"
	SourceStoreID      SourceKind = "StoreId"
)

// Source is Install's archive origin: a closed choice of a local file, a
// direct URL, or a store listing.
type Source struct {
	Kind  SourceKind
	Value string // local path, URL, or store id, depending on Kind.
}

func LocalArchive(path string) Source { return Source{Kind: SourceLocalArchive, Value: path} }
func URL(url string) Source           { return Source{Kind: SourceURL, Value: url} }
func StoreID(id string) Source        { return Source{Kind: SourceStoreID, Value: id} }

// String renders a Source for the registry's source_descriptor field and
// for logs.
func (s Source) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Value)
}

// ParseSource inverts String, for reloading a registry record's
// source_descriptor on CheckUpdates/Update(id, nil).
func ParseSource(descriptor string) (Source, error) {
	for i := 0; i < len(descriptor); i++ {
		if descriptor[i] == ':' {
			return Source{Kind: SourceKind(descriptor[:i]), Value: descriptor[i+1:]}, nil
		}
	}
	return Source{}, fmt.Errorf("lifecycle: malformed source descriptor %q", descriptor)
}
