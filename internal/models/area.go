package models

// LawAreaID identifies a legal practice area
type LawAreaID string

const (
	AreaLabor          LawAreaID = "LABOR"
	AreaCriminal       LawAreaID = "CRIMINAL"
	AreaAIEthics       LawAreaID = "AI_ETHICS"
	AreaDataProtection LawAreaID = "DATA_PROTECTION"
	AreaCommercial     LawAreaID = "COMMERCIAL"
	AreaFamily         LawAreaID = "FAMILY"
)

// KnownAreaIDs lists every identifier of the closed area enumeration
var KnownAreaIDs = []LawAreaID{
	AreaLabor,
	AreaCriminal,
	AreaAIEthics,
	AreaDataProtection,
	AreaCommercial,
	AreaFamily,
}

// IsKnown reports whether id belongs to the area enumeration
func (id LawAreaID) IsKnown() bool {
	for _, known := range KnownAreaIDs {
		if id == known {
			return true
		}
	}
	return false
}

// LawArea represents one legal practice domain the diagnostic can classify into
type LawArea struct {
	ID               LawAreaID `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	FullyImplemented bool      `json:"isFullyImplemented"`
	Framework        string    `json:"framework,omitempty"` // legal framework citation
}
