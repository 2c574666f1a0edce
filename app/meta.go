package app

type MetaDeps struct {
	Name        string
	Builded     string
	Hash        string
	Version     string
	Description string
}

type Meta struct {
	Name        string
	Builded     string
	Hash        string
	Version     string
	Description string
}

func NewMeta(deps *MetaDeps) *Meta {
	if deps == nil {
		deps = &MetaDeps{}
	}

	meta := &Meta{
		Name:        deps.Name,
		Builded:     deps.Builded,
		Hash:        deps.Hash,
		Version:     deps.Version,
		Description: deps.Description,
	}

	if meta.Description == "" {
		meta.Description = "no description"
	}

	if meta.Name == "" {
		meta.Name = "unknown"
	}

	if meta.Version == "" {
		meta.Version = "0.0.0"
	}

	return meta
}

func (m *Meta) BuildInfo() string {
	return m.Version + ", builded: " + m.Builded + ", hash: " + m.Hash
}
