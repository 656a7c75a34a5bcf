// Package catalog models the table metadata exposed by the Tidepool query
// service: tables, their fields, primary keys, and cross-table
// relationships.
package catalog

// Filter narrows a metadata listing. Zero-value fields are not applied.
type Filter struct {
	// EntityName selects one table by name.
	EntityName string
	// EntityCategory selects a table category (Profile, Engagement, ...).
	EntityCategory string
	// EntityType selects a table type.
	EntityType string
}

// Field is one column of a catalog table.
type Field struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
	IsMeasure   bool   `json:"isMeasure,omitempty"`
	IsDimension bool   `json:"isDimension,omitempty"`
}

// PrimaryKey is one component of a table's primary key.
type PrimaryKey struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	IndexOrder  string `json:"indexOrder"`
}

// Relationship links two catalog tables.
type Relationship struct {
	FromTable     string `json:"fromEntity"`
	ToTable       string `json:"toEntity"`
	FromAttribute string `json:"fromEntityAttribute"`
	ToAttribute   string `json:"toEntityAttribute"`
	Cardinality   string `json:"cardinality"`
}

// Table is the metadata of one queryable table.
type Table struct {
	Name          string         `json:"name"`
	DisplayName   string         `json:"displayName"`
	Category      string         `json:"category"`
	PartitionBy   string         `json:"partitionBy,omitempty"`
	Fields        []Field        `json:"fields,omitempty"`
	PrimaryKeys   []PrimaryKey   `json:"primaryKeys,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Names returns the display names (falling back to names) of the given
// tables, preserving order.
func Names(tables []Table) []string {
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		if t.DisplayName != "" {
			names = append(names, t.DisplayName)
			continue
		}
		names = append(names, t.Name)
	}
	return names
}

// FieldNames returns the column names of a table, preserving order.
func (t Table) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}
