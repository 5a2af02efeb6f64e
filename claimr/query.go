// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package claimr

import "github.com/santhosh-tekuri/jsonschema/v5"

const verifyLocationQuery = `
query VerifyLocation(
  $claim: ClaimInput!
  $context: ContextInput!
  $logRequestDetails: Boolean
) {
  verifyLocation(
    tokenRequest: { claim: $claim }
    context: $context
    logRequestDetails: $logRequestDetails
  ) {
    status
    message
    tokenResponse {
      token {
        sub
        iat
        proof
        claim {
          point {
            location {
              latitude
              longitude
            }
            radius
          }
          area {
            locations {
              latitude
              longitude
            }
          }
        }
      }
      jwt
    }
  }
}
`

// The shape of a verifyLocation result. Anything the verifier sends outside
// of it is rejected before decoding.
const verdictSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "location": {
      "type": "object",
      "required": ["latitude", "longitude"],
      "properties": {
        "latitude": {"type": "number", "minimum": -90, "maximum": 90},
        "longitude": {"type": "number", "minimum": -180, "maximum": 180}
      }
    },
    "claim": {
      "type": "object",
      "properties": {
        "point": {
          "type": ["object", "null"],
          "required": ["location", "radius"],
          "properties": {
            "location": {"$ref": "#/definitions/location"},
            "radius": {"type": "number"}
          }
        },
        "area": {
          "type": ["object", "null"],
          "required": ["locations"],
          "properties": {
            "locations": {
              "type": "array",
              "items": {"$ref": "#/definitions/location"}
            }
          }
        }
      }
    }
  },
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"enum": ["GRANTED", "REVOKED", "ERROR"]},
    "message": {"type": ["string", "null"]},
    "tokenResponse": {
      "type": ["object", "null"],
      "required": ["token", "jwt"],
      "properties": {
        "jwt": {"type": "string"},
        "token": {
          "type": "object",
          "required": ["claim"],
          "properties": {
            "sub": {"type": ["string", "null"]},
            "iat": {"type": "integer"},
            "proof": {"type": ["string", "null"]},
            "claim": {"$ref": "#/definitions/claim"}
          }
        }
      }
    }
  }
}`

var verdictSchema = jsonschema.MustCompileString(
	"verify_location.json",
	verdictSchemaJSON,
)
