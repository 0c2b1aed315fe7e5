package model

// Phase is the sequence controller's current motion phase.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseHoming      Phase = "homing"
	PhaseOscillating Phase = "oscillating"
	PhaseEjecting    Phase = "ejecting"
)

// CardRecord is one enriched, classified scan. Records are immutable once
// published; a new scan supersedes the previous record rather than mutating it.
type CardRecord struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Edition     string  `json:"edition"`
	EditionCode string  `json:"editionCode"`
	Number      string  `json:"number"`
	Rarity      string  `json:"rarity"`
	Price       float64 `json:"price"`
	FmtPrice    string  `json:"fmtPrice"`
	Finish      string  `json:"finish"`
	CardType    string  `json:"cardType"`
	ScryfallID  string  `json:"scryfallId"`

	CMC           float64  `json:"cmc"`
	Colors        []string `json:"colors"`
	ColorIdentity []string `json:"color_identity"`
	TypeLine      string   `json:"type_line"`
	ManaCost      string   `json:"mana_cost"`
	OracleText    string   `json:"oracle_text"`
	Power         string   `json:"power"`
	Toughness     string   `json:"toughness"`
	Keywords      []string `json:"keywords"`
	SetName       string   `json:"set_name"`
	ImageURI      string   `json:"image_uri"`
	ImageArtCrop  string   `json:"image_art_crop"`

	ScanTimestamp string `json:"timestamp"`
	Bin           int    `json:"bin"`
}

// RuleFields exposes the record attributes the rule engine may reference,
// keyed the way rule files name them.
func (c CardRecord) RuleFields() map[string]any {
	return map[string]any{
		"name":           c.Name,
		"edition":        c.Edition,
		"editionCode":    c.EditionCode,
		"number":         c.Number,
		"rarity":         c.Rarity,
		"price":          c.Price,
		"finish":         c.Finish,
		"cardType":       c.CardType,
		"cmc":            c.CMC,
		"colors":         c.Colors,
		"color_identity": c.ColorIdentity,
		"type_line":      c.TypeLine,
		"mana_cost":      c.ManaCost,
		"oracle_text":    c.OracleText,
		"power":          c.Power,
		"toughness":      c.Toughness,
		"keywords":       c.Keywords,
	}
}

// Rule classifies a card into a bin. Rules are evaluated in list order and
// the first match wins.
type Rule struct {
	Name     string `json:"name"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Bin      int    `json:"bin"`
}

// DefaultRules is the built-in rule set used when no rule list is persisted.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "High Value", Field: "price", Operator: ">", Value: 5, Bin: 1},
		{Name: "Mythics", Field: "rarity", Operator: "==", Value: "mythic", Bin: 2},
		{Name: "Rares", Field: "rarity", Operator: "==", Value: "rare", Bin: 3},
		{Name: "Blue Cards", Field: "color_identity", Operator: "contains", Value: "U", Bin: 4},
		{Name: "Creatures", Field: "type_line", Operator: "contains", Value: "Creature", Bin: 5},
	}
}

// API error codes.
const (
	ErrRefInvalid         = "E_REF_INVALID"
	ErrRefNotFound        = "E_REF_NOT_FOUND"
	ErrAlreadyRunning     = "E_ALREADY_RUNNING"
	ErrSequenceActive     = "E_SEQUENCE_ACTIVE"
	ErrSimOnly            = "E_SIM_ONLY"
	ErrUpstreamFailed     = "E_UPSTREAM_FAILED"
	ErrPreconditionFailed = "E_PRECONDITION_FAILED"
)
