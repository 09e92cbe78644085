package goodfood

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Script ids of the JSON blobs GoodFood embeds in recipe pages.
const (
	adSettingsScriptID  = "__AD_SETTINGS__"
	postContentScriptID = "__POST_CONTENT__"
)

// adSettings is the subset of __AD_SETTINGS__ the scraper reads.
type adSettings struct {
	PermutiveConfig struct {
		PermutiveModel permutiveModel `json:"permutiveModel"`
	} `json:"permutiveConfig"`
	Targets map[string]json.RawMessage `json:"targets"`
}

type permutiveModel struct {
	Title   string `json:"title"`
	Article struct {
		Description string `json:"description"`
	} `json:"article"`
	Recipe struct {
		Ingredients   stringList `json:"ingredients"`
		NutritionInfo stringList `json:"nutrition_info"`
		CookingTime   number     `json:"cooking_time"`
		PrepTime      number     `json:"prep_time"`
		DietTypes     stringList `json:"diet_types"`
		Serves        number     `json:"serves"`
	} `json:"recipe"`
}

// postContent is the subset of __POST_CONTENT__ the scraper reads.
type postContent struct {
	UserRatings *struct {
		Total number `json:"total"`
		Avg   number `json:"avg"`
	} `json:"userRatings"`
	MethodSteps []struct {
		Content []struct {
			Data struct {
				Value string `json:"value"`
			} `json:"data"`
		} `json:"content"`
	} `json:"methodSteps"`
}

// number accepts JSON numbers, numeric strings, null and "" alike.
type number struct {
	Value float64
	Valid bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = number{}
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*n = number{}
			return nil
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// Free text such as "Makes 12" carries no usable count.
		*n = number{}
		return nil
	}
	*n = number{Value: v, Valid: true}
	return nil
}

func (n number) Int() int {
	return int(n.Value)
}

// stringList accepts a JSON array of strings, a single string or null.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = stringList{s}
		return nil
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(stringList, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case nil:
		default:
			b, _ := json.Marshal(v)
			out = append(out, string(b))
		}
	}
	*l = out
	return nil
}

// cuisine reads targets.cuisine, which may be absent, a string or a list.
func (a adSettings) cuisine() []string {
	raw, ok := a.Targets["cuisine"]
	if !ok {
		return []string{}
	}
	var list stringList
	if err := json.Unmarshal(raw, &list); err != nil || list == nil {
		return []string{}
	}
	return list
}

// cleanText replaces non-breaking spaces with plain spaces.
func cleanText(s string) string {
	return strings.ReplaceAll(s, "\u00a0", " ")
}
