package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cardsort/sorterd/internal/model"
	"github.com/cardsort/sorterd/internal/rules"
)

func rule(field, op string, value any, bin int) model.Rule {
	return model.Rule{Name: field + op, Field: field, Operator: op, Value: value, Bin: bin}
}

func TestFirstMatchWins(t *testing.T) {
	fields := map[string]any{"rarity": "rare", "price": 12.0}
	list := []model.Rule{
		rule("price", ">", 5, 1),
		rule("rarity", "==", "rare", 3),
	}
	assert.Equal(t, 1, rules.Evaluate(fields, list), "earlier rule must win even when both match")

	list[0], list[1] = list[1], list[0]
	assert.Equal(t, 3, rules.Evaluate(fields, list))
}

func TestNoMatchReturnsDefaultBin(t *testing.T) {
	fields := map[string]any{"rarity": "common"}
	list := []model.Rule{rule("rarity", "==", "mythic", 2)}
	assert.Equal(t, rules.DefaultBin, rules.Evaluate(fields, list))
	assert.Equal(t, rules.DefaultBin, rules.Evaluate(fields, nil))
}

func TestListEqualityIsOrderAndCaseInsensitive(t *testing.T) {
	fields := map[string]any{"colors": []string{"U", "B"}}
	assert.Equal(t, 7, rules.Evaluate(fields, []model.Rule{rule("colors", "==", "b,u", 7)}))
	assert.Equal(t, 7, rules.Evaluate(fields, []model.Rule{rule("colors", "==", " B , u ", 7)}))
	assert.Equal(t, 0, rules.Evaluate(fields, []model.Rule{rule("colors", "==", "b", 7)}))
	assert.Equal(t, 0, rules.Evaluate(fields, []model.Rule{rule("colors", "==", "b,u,w", 7)}))
}

func TestListContains(t *testing.T) {
	fields := map[string]any{"color_identity": []string{"W", "u"}}
	assert.Equal(t, 4, rules.Evaluate(fields, []model.Rule{rule("color_identity", "contains", "U", 4)}))
	assert.Equal(t, 4, rules.Evaluate(fields, []model.Rule{rule("color_identity", "contains", "w", 4)}))
	assert.Equal(t, 0, rules.Evaluate(fields, []model.Rule{rule("color_identity", "contains", "G", 4)}))
}

func TestListLength(t *testing.T) {
	fields := map[string]any{"colors": []string{"U", "B", "G"}}
	assert.Equal(t, 9, rules.Evaluate(fields, []model.Rule{rule("colors", "len==", 3, 9)}))
	assert.Equal(t, 9, rules.Evaluate(fields, []model.Rule{rule("colors", "len==", "3", 9)}))
	assert.Equal(t, 0, rules.Evaluate(fields, []model.Rule{rule("colors", "len==", 2, 9)}))
}

func TestOrderingOperatorOnListIsNonMatch(t *testing.T) {
	fields := map[string]any{"colors": []string{"U"}, "rarity": "rare"}
	list := []model.Rule{
		rule("colors", ">", 1, 5),
		rule("rarity", "==", "rare", 3),
	}
	assert.Equal(t, 3, rules.Evaluate(fields, list), "list rule must be skipped, not fatal")
}

func TestNumericCoercionFromStrings(t *testing.T) {
	assert.Equal(t, 1, rules.Evaluate(map[string]any{"price": "5.5"}, []model.Rule{rule("price", ">", 5, 1)}))
	assert.Equal(t, 1, rules.Evaluate(map[string]any{"price": 5.5}, []model.Rule{rule("price", ">", "5", 1)}))
	assert.Equal(t, 1, rules.Evaluate(map[string]any{"cmc": 3.0}, []model.Rule{rule("cmc", "<=", 3, 1)}))
	assert.Equal(t, 0, rules.Evaluate(map[string]any{"power": "*"}, []model.Rule{rule("power", ">=", 2, 1)}),
		"non-numeric operand degrades to non-match")
}

func TestScalarEqualityIsCaseInsensitive(t *testing.T) {
	fields := map[string]any{"rarity": "Mythic"}
	assert.Equal(t, 2, rules.Evaluate(fields, []model.Rule{rule("rarity", "==", "mythic", 2)}))
	assert.Equal(t, 0, rules.Evaluate(fields, []model.Rule{rule("rarity", "!=", "MYTHIC", 2)}))
	assert.Equal(t, 2, rules.Evaluate(fields, []model.Rule{rule("rarity", "!=", "rare", 2)}))
}

func TestScalarContainsSubstring(t *testing.T) {
	fields := map[string]any{"type_line": "Legendary Creature — Bird"}
	assert.Equal(t, 5, rules.Evaluate(fields, []model.Rule{rule("type_line", "contains", "creature", 5)}))
	assert.Equal(t, 0, rules.Evaluate(fields, []model.Rule{rule("type_line", "contains", "Artifact", 5)}))
}

func TestNumericEqualityComparesTextForms(t *testing.T) {
	assert.Equal(t, 6, rules.Evaluate(map[string]any{"cmc": 2.0}, []model.Rule{rule("cmc", "==", "2", 6)}))
	assert.Equal(t, 6, rules.Evaluate(map[string]any{"cmc": 2.0}, []model.Rule{rule("cmc", "==", 2, 6)}))
}

func TestAbsentFieldSkipsRule(t *testing.T) {
	fields := map[string]any{"rarity": "rare"}
	list := []model.Rule{
		rule("price", ">", 5, 1),
		rule("missing_field", "==", "x", 8),
		rule("rarity", "==", "rare", 3),
	}
	assert.Equal(t, 3, rules.Evaluate(fields, list))

	fields["price"] = nil
	assert.Equal(t, 3, rules.Evaluate(fields, list), "nil field must skip, not fault")
}

func TestUnknownOperatorIsNonMatch(t *testing.T) {
	fields := map[string]any{"rarity": "rare"}
	assert.Equal(t, 0, rules.Evaluate(fields, []model.Rule{rule("rarity", "matches", "rare", 1)}))
}

func TestEvaluateDefaultRuleSet(t *testing.T) {
	defaults := model.DefaultRules()

	expensive := model.CardRecord{Name: "Tarmogoyf", Rarity: "mythic", Price: 42}
	assert.Equal(t, 1, rules.Evaluate(expensive.RuleFields(), defaults), "price rule precedes rarity rules")

	mythic := model.CardRecord{Name: "Emrakul", Rarity: "mythic", Price: 4}
	assert.Equal(t, 2, rules.Evaluate(mythic.RuleFields(), defaults))

	blue := model.CardRecord{Name: "Counterspell", Rarity: "common", ColorIdentity: []string{"U"}}
	assert.Equal(t, 4, rules.Evaluate(blue.RuleFields(), defaults))

	creature := model.CardRecord{Name: "Grizzly Bears", Rarity: "common", TypeLine: "Creature — Bear"}
	assert.Equal(t, 5, rules.Evaluate(creature.RuleFields(), defaults))

	land := model.CardRecord{Name: "Forest", Rarity: "common", TypeLine: "Basic Land — Forest"}
	assert.Equal(t, 0, rules.Evaluate(land.RuleFields(), defaults))
}
