package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const reportSchemaJSON = `{
  "type": "object",
  "required": ["direction", "confidence", "reasoning"],
  "properties": {
    "direction": {"type": "string", "pattern": "(?i)^\\s*(bullish|bearish|neutral)\\s*$"},
    "confidence": {"type": ["number", "string"]},
    "reasoning": {"type": "string", "minLength": 1},
    "warnings": {"type": "array", "items": {"type": "string"}},
    "analysis": {"type": "object"},
    "data_sources_consulted": {"type": "array", "items": {"type": "string"}}
  }
}`

const synthesisSchemaJSON = `{
  "type": "object",
  "required": ["recommendation", "direction", "aggregate_confidence", "decay_projection", "price_assessment", "reasoning"],
  "definitions": {
    "decimal": {"type": ["number", "string"]},
    "optionalDecimal": {"type": ["number", "string", "null"]},
    "score": {
      "type": "object",
      "required": ["score"],
      "properties": {"score": {"$ref": "#/definitions/decimal"}, "reasoning": {"type": "string"}}
    },
    "price": {
      "type": "object",
      "required": ["favorability"],
      "properties": {
        "favorability": {"$ref": "#/definitions/decimal"},
        "suggested_price": {"$ref": "#/definitions/optionalDecimal"},
        "reasoning": {"type": "string"}
      }
    }
  },
  "properties": {
    "recommendation": {"type": "string", "pattern": "(?i)^\\s*(proceed|caution|reject)\\s*$"},
    "direction": {"type": "string", "pattern": "(?i)^\\s*(bullish|bearish|neutral)\\s*$"},
    "aggregate_confidence": {"$ref": "#/definitions/score"},
    "decay_projection": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["offset_hours", "confidence"],
        "properties": {
          "offset_hours": {"$ref": "#/definitions/decimal"},
          "confidence": {"$ref": "#/definitions/decimal"},
          "price_target": {"$ref": "#/definitions/optionalDecimal"},
          "note": {"type": ["string", "null"]}
        }
      }
    },
    "assumes_new_information": {"type": "boolean"},
    "confidence_decay": {
      "type": ["object", "null"],
      "required": ["daily_rate", "model"],
      "properties": {
        "daily_rate": {"$ref": "#/definitions/decimal"},
        "model": {"type": "string", "enum": ["linear", "exponential"]}
      }
    },
    "price_target_decay": {
      "type": ["object", "null"],
      "required": ["daily_rate", "model"],
      "properties": {
        "daily_rate": {"$ref": "#/definitions/decimal"},
        "model": {"type": "string", "enum": ["linear", "exponential"]}
      }
    },
    "price_assessment": {"$ref": "#/definitions/price"},
    "leg_assessments": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["side", "confidence"],
        "properties": {
          "side": {"type": "string", "enum": ["buy", "sell"]},
          "confidence": {"$ref": "#/definitions/score"},
          "price_assessment": {"$ref": "#/definitions/price"}
        }
      }
    },
    "trade_intelligence": {
      "type": ["object", "null"],
      "required": ["smartness_score"],
      "properties": {
        "smartness_score": {"$ref": "#/definitions/decimal"},
        "assessments": {"type": "array", "items": {"type": "string"}}
      }
    },
    "specialist_summaries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["domain", "summary"],
        "properties": {"domain": {"type": "string"}, "summary": {"type": "string"}}
      }
    },
    "reasoning": {"type": "string", "minLength": 1},
    "warnings": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	reportSchema    = mustCompileSchema("report.json", reportSchemaJSON)
	synthesisSchema = mustCompileSchema("synthesis.json", synthesisSchemaJSON)
)

// 内置 schema 在包初始化时编译，编译失败属于程序错误。
func mustCompileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return schema
}

func validateAgainst(schema *jsonschema.Schema, raw string) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("json 格式无效: %w", err)
	}
	return schema.Validate(doc)
}
