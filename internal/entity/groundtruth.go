package entity

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// ResolvedIdentity peeks at the two fields of an otherwise opaque ground
// truth payload that identity migration relies on: an external knowledge
// base id and the resolved modern name. Missing paths yield empty strings.
func ResolvedIdentity(groundTruth json.RawMessage, idPath, namePath string) (string, string) {
	if len(groundTruth) == 0 || !gjson.ValidBytes(groundTruth) {
		return "", ""
	}

	var externalID, resolvedName string
	if strings.TrimSpace(idPath) != "" {
		externalID = strings.TrimSpace(gjson.GetBytes(groundTruth, idPath).String())
	}
	if strings.TrimSpace(namePath) != "" {
		resolvedName = strings.TrimSpace(gjson.GetBytes(groundTruth, namePath).String())
	}
	return externalID, resolvedName
}
