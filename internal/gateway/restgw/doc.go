// Package restgw implements the "rest" gateway for the Milvus RESTful v2 API
// (entities/upsert and entities/query). Filter expressions are passed to the
// server unchanged; Config.Token is sent as a bearer token.
package restgw
