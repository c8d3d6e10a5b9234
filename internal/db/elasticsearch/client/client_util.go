package client

import (
	"encoding/json"
	"fmt"
)

type MetaMap map[string]interface{}
type DocumentMap map[string]interface{}

// ToMetaAndDataMap converts values to bulk index actions and documents. A
// top-level "_id" becomes the action's document id, and a "_version" turns the
// action into an externally versioned index so older revisions never overwrite
// newer ones.
func ToMetaAndDataMap[T any](values []T) ([]MetaMap, []DocumentMap, error) {
	dataMap := make([]DocumentMap, len(values))
	metaMap := make([]MetaMap, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal value to JSON: %w", err)
		}
		var mapStruct map[string]interface{}
		if err := json.Unmarshal(data, &mapStruct); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal JSON to map: %w", err)
		}

		action := map[string]interface{}{}
		if id, ok := mapStruct["_id"]; ok {
			delete(mapStruct, "_id")
			action["_id"] = id
		}
		if version, ok := mapStruct["_version"]; ok {
			delete(mapStruct, "_version")
			action["version"] = version
			action["version_type"] = "external"
		}
		metaMap[i] = MetaMap{"index": action}
		dataMap[i] = mapStruct
	}
	return metaMap, dataMap, nil
}
