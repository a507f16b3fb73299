package elasticsearch

// buildCoreMapping returns the JSON settings and mappings for a core.
// Dynamic templates map the field-type suffix of every generated field
// name to an Elasticsearch type.
func buildCoreMapping() string {
	return `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "analysis": {
      "analyzer": {
        "catalog_text": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "asciifolding"]
        }
      }
    }
  },
  "mappings": {
    "dynamic_templates": [
      {"texts":    {"match": "*_txt", "mapping": {"type": "text", "analyzer": "catalog_text"}}},
      {"text":     {"match": "*_t",   "mapping": {"type": "text", "analyzer": "catalog_text"}}},
      {"strings":  {"match": "*_ss",  "mapping": {"type": "keyword"}}},
      {"string":   {"match": "*_s",   "mapping": {"type": "keyword"}}},
      {"integer":  {"match": "*_i",   "mapping": {"type": "integer"}}},
      {"long":     {"match": "*_l",   "mapping": {"type": "long"}}},
      {"decimal":  {"match": "*_d",   "mapping": {"type": "double"}}},
      {"price":    {"match": "*_p",   "mapping": {"type": "scaled_float", "scaling_factor": 100}}},
      {"boolean":  {"match": "*_b",   "mapping": {"type": "boolean"}}},
      {"date":     {"match": "*_dt",  "mapping": {"type": "date"}}}
    ],
    "properties": {
      "namespace":        {"type": "keyword"},
      "id":               {"type": "keyword"},
      "productId":        {"type": "long"},
      "skuId":            {"type": "long"},
      "explicitCategory": {"type": "long"},
      "category":         {"type": "long"}
    }
  }
}`
}
