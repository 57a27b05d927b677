package entities

// TypeInfo describes a built-in entity type.
type TypeInfo struct {
	Name        EntityType `json:"name"`
	Description string     `json:"description"`
}

// DefaultEntityTypes are the entity types a world may contain.
var DefaultEntityTypes = []TypeInfo{
	{
		Name:        EntityCharacter,
		Description: "People, beings, named actors with knowledge and perceptions",
	},
	{
		Name:        EntityLocation,
		Description: "Places, regions, buildings, geographical features",
	},
	{
		Name:        EntityEvent,
		Description: "Story events ordered by sequence and optional in-world date",
	},
	{
		Name:        EntityScene,
		Description: "Scenes anchored to an event and a location with participants",
	},
	{
		Name:        EntityKnowledge,
		Description: "Facts that characters can know, suspect or deny",
	},
	{
		Name:        EntityFaction,
		Description: "Groups, houses, orders, organisations",
	},
	{
		Name:        EntityItem,
		Description: "Objects and artifacts",
	},
}

// DefaultTypeNames returns just the names of default types for quick lookup.
func DefaultTypeNames() []EntityType {
	names := make([]EntityType, len(DefaultEntityTypes))
	for i, t := range DefaultEntityTypes {
		names[i] = t.Name
	}
	return names
}

// ParseEntityTypes converts raw type names, rejecting unknown ones.
// An empty input yields nil.
func ParseEntityTypes(raw []string) ([]EntityType, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	out := make([]EntityType, 0, len(raw))
	for _, r := range raw {
		t := EntityType(NormalizeName(r))
		if !t.IsValid() {
			return nil, false
		}
		out = append(out, t)
	}
	return out, true
}
