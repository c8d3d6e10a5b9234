package bootstrapper

const SpanIndexName = "span_index"

var spanIndex = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 1,
	},
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type": "keyword",
			},
			"agent_id": map[string]interface{}{
				"type": "keyword",
			},
			"application_name": map[string]interface{}{
				"type": "keyword",
			},
			"transaction_id": map[string]interface{}{
				"type": "keyword",
			},
			"span_id": map[string]interface{}{
				"type": "long",
			},
			"parent_span_id": map[string]interface{}{
				"type": "long",
			},
			"start_time": map[string]interface{}{
				"type": "date",
			},
			"end_time": map[string]interface{}{
				"type": "date",
			},
			"updated_at": map[string]interface{}{
				"type": "date",
			},
			"rpc": map[string]interface{}{
				"type": "keyword",
			},
			"end_point": map[string]interface{}{
				"type": "keyword",
			},
			"err": map[string]interface{}{
				"type": "integer",
			},
			"complete": map[string]interface{}{
				"type": "boolean",
			},
			"units": map[string]interface{}{
				"type": "integer",
			},
			"failed_units": map[string]interface{}{
				"type": "integer",
			},
			"event_count": map[string]interface{}{
				"type": "integer",
			},
			"span": map[string]interface{}{
				"type":    "object",
				"enabled": false,
			},
		},
	},
}
