package emu

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// DynamoDB translator: target-header JSON protocol over table and item rows.
// Items are stored as canonical attribute-value JSON; consistency is strong
// because the store is single-node.

// attrValue is one DynamoDB attribute value, e.g. {"S":"x"} or {"N":"3"}.
type attrValue map[string]any

type dynamoItem map[string]attrValue

func writeDynamoError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"__type":  "com.amazonaws.dynamodb.v20120810#" + code,
		"message": message,
	})
}

func dynamoFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		writeDynamoError(w, http.StatusBadRequest, "ResourceNotFoundException", err.Error())
	case errors.Is(err, fault.ErrConflict):
		writeDynamoError(w, http.StatusBadRequest, "ResourceInUseException", err.Error())
	case errors.Is(err, fault.ErrInvalid):
		writeDynamoError(w, http.StatusBadRequest, "ValidationException", err.Error())
	default:
		writeDynamoError(w, http.StatusInternalServerError, "InternalServerError", "internal error")
	}
}

func (rt *Router) dynamoDispatch(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get("X-Amz-Target")
	op := target[strings.LastIndexByte(target, '.')+1:]
	switch op {
	case "CreateTable":
		rt.dynamoCreateTable(w, r)
	case "DescribeTable":
		rt.dynamoDescribeTable(w, r)
	case "DeleteTable":
		rt.dynamoDeleteTable(w, r)
	case "ListTables":
		rt.dynamoListTables(w, r)
	case "PutItem":
		rt.dynamoPutItem(w, r)
	case "GetItem":
		rt.dynamoGetItem(w, r)
	case "DeleteItem":
		rt.dynamoDeleteItem(w, r)
	case "Query":
		rt.dynamoQuery(w, r)
	case "Scan":
		rt.dynamoScan(w, r)
	default:
		writeDynamoError(w, http.StatusBadRequest, "UnknownOperationException",
			"operation "+op+" is not supported")
	}
}

type dynamoKeyElement struct {
	AttributeName string `json:"AttributeName"`
	KeyType       string `json:"KeyType"`
}

type dynamoAttrDef struct {
	AttributeName string `json:"AttributeName"`
	AttributeType string `json:"AttributeType"`
}

func dynamoTableDescription(t *store.DynamoTable) map[string]any {
	schema := []dynamoKeyElement{{AttributeName: t.HashKey, KeyType: "HASH"}}
	defs := []dynamoAttrDef{{AttributeName: t.HashKey, AttributeType: t.HashType}}
	if t.RangeKey != nil {
		schema = append(schema, dynamoKeyElement{AttributeName: *t.RangeKey, KeyType: "RANGE"})
		defs = append(defs, dynamoAttrDef{AttributeName: *t.RangeKey, AttributeType: *t.RangeType})
	}
	return map[string]any{
		"TableName":            t.Name,
		"TableStatus":          "ACTIVE",
		"KeySchema":            schema,
		"AttributeDefinitions": defs,
		"CreationDateTime":     t.CreatedAt.Unix(),
	}
}

func (rt *Router) dynamoCreateTable(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	var req struct {
		TableName            string             `json:"TableName"`
		KeySchema            []dynamoKeyElement `json:"KeySchema"`
		AttributeDefinitions []dynamoAttrDef    `json:"AttributeDefinitions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TableName == "" || len(req.KeySchema) == 0 {
		writeDynamoError(w, http.StatusBadRequest, "ValidationException", "TableName and KeySchema required")
		return
	}
	attrTypes := make(map[string]string, len(req.AttributeDefinitions))
	for _, d := range req.AttributeDefinitions {
		attrTypes[d.AttributeName] = d.AttributeType
	}
	t := &store.DynamoTable{EnvironmentID: env.ID, Name: req.TableName}
	for _, k := range req.KeySchema {
		typ := attrTypes[k.AttributeName]
		if typ == "" {
			typ = "S"
		}
		switch k.KeyType {
		case "HASH":
			t.HashKey, t.HashType = k.AttributeName, typ
		case "RANGE":
			name, rtyp := k.AttributeName, typ
			t.RangeKey, t.RangeType = &name, &rtyp
		}
	}
	if t.HashKey == "" {
		writeDynamoError(w, http.StatusBadRequest, "ValidationException", "HASH key required")
		return
	}
	if err := rt.Store.CreateDynamoTable(r.Context(), t); err != nil {
		dynamoFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"TableDescription": dynamoTableDescription(t)})
}

func (rt *Router) tableFromBody(r *http.Request, body []byte) (*store.DynamoTable, error) {
	env := envFrom(r.Context())
	var req struct {
		TableName string `json:"TableName"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.TableName == "" {
		return nil, fault.Invalidf("TableName required")
	}
	return rt.Store.DynamoTable(r.Context(), env.ID, req.TableName)
}

func readBody(r *http.Request) []byte {
	b, _ := io.ReadAll(r.Body)
	return b
}

func (rt *Router) dynamoDescribeTable(w http.ResponseWriter, r *http.Request) {
	t, err := rt.tableFromBody(r, readBody(r))
	if err != nil {
		dynamoFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Table": dynamoTableDescription(t)})
}

func (rt *Router) dynamoDeleteTable(w http.ResponseWriter, r *http.Request) {
	t, err := rt.tableFromBody(r, readBody(r))
	if err != nil {
		dynamoFault(w, err)
		return
	}
	if err := rt.Store.DeleteDynamoTable(r.Context(), t.ID); err != nil {
		dynamoFault(w, err)
		return
	}
	desc := dynamoTableDescription(t)
	desc["TableStatus"] = "DELETING"
	writeJSON(w, http.StatusOK, map[string]any{"TableDescription": desc})
}

func (rt *Router) dynamoListTables(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	tables, err := rt.Store.DynamoTablesByEnvironment(r.Context(), env.ID)
	if err != nil {
		dynamoFault(w, err)
		return
	}
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"TableNames": names})
}

// avScalar renders one attribute value as the comparable scalar string used
// for key storage.
func avScalar(av attrValue) (string, bool) {
	for _, typ := range []string{"S", "N", "B", "BOOL"} {
		if v, ok := av[typ]; ok {
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

// itemKey extracts the (hash, range) scalar pair per the table schema.
func itemKey(t *store.DynamoTable, item dynamoItem) (string, string, error) {
	hashAV, ok := item[t.HashKey]
	if !ok {
		return "", "", fault.Invalidf("missing hash key %s", t.HashKey)
	}
	hash, ok := avScalar(hashAV)
	if !ok {
		return "", "", fault.Invalidf("unsupported hash key type")
	}
	rng := ""
	if t.RangeKey != nil {
		rangeAV, ok := item[*t.RangeKey]
		if !ok {
			return "", "", fault.Invalidf("missing range key %s", *t.RangeKey)
		}
		if rng, ok = avScalar(rangeAV); !ok {
			return "", "", fault.Invalidf("unsupported range key type")
		}
	}
	return hash, rng, nil
}

// evalCondition evaluates the supported ConditionExpression subset against
// the current item (nil when absent): attribute_exists, attribute_not_exists,
// and {=, <>, <, <=, >, >=} on top-level attributes.
func evalCondition(expr string, current dynamoItem, values dynamoItem) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	if rest, ok := strings.CutPrefix(expr, "attribute_exists("); ok {
		attr := strings.TrimSuffix(strings.TrimSpace(rest), ")")
		_, present := current[attr]
		return current != nil && present, nil
	}
	if rest, ok := strings.CutPrefix(expr, "attribute_not_exists("); ok {
		attr := strings.TrimSuffix(strings.TrimSpace(rest), ")")
		if current == nil {
			return true, nil
		}
		_, present := current[attr]
		return !present, nil
	}

	for _, op := range []string{"<>", "<=", ">=", "=", "<", ">"} {
		i := strings.Index(expr, op)
		if i < 0 {
			continue
		}
		attr := strings.TrimSpace(expr[:i])
		ref := strings.TrimSpace(expr[i+len(op):])
		want, ok := values[ref]
		if !ok {
			return false, fault.Invalidf("unbound expression value %s", ref)
		}
		if current == nil {
			return false, nil
		}
		have, ok := current[attr]
		if !ok {
			return false, nil
		}
		return compareAV(have, want, op)
	}
	return false, fault.Invalidf("unsupported condition expression %q", expr)
}

func compareAV(have, want attrValue, op string) (bool, error) {
	// Numeric comparison when both sides are N, lexicographic otherwise.
	if hn, ok := have["N"]; ok {
		if wn, ok := want["N"]; ok {
			h, err1 := strconv.ParseFloat(fmt.Sprint(hn), 64)
			w, err2 := strconv.ParseFloat(fmt.Sprint(wn), 64)
			if err1 != nil || err2 != nil {
				return false, fault.Invalidf("malformed number attribute")
			}
			return compareOrdered(h, w, op)
		}
	}
	hs, ok1 := avScalar(have)
	ws, ok2 := avScalar(want)
	if !ok1 || !ok2 {
		return false, fault.Invalidf("uncomparable attribute types")
	}
	return compareOrdered(hs, ws, op)
}

func compareOrdered[T string | float64](h, w T, op string) (bool, error) {
	switch op {
	case "=":
		return h == w, nil
	case "<>":
		return h != w, nil
	case "<":
		return h < w, nil
	case "<=":
		return h <= w, nil
	case ">":
		return h > w, nil
	case ">=":
		return h >= w, nil
	}
	return false, fault.Invalidf("unsupported operator %q", op)
}

func (rt *Router) dynamoPutItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TableName                 string     `json:"TableName"`
		Item                      dynamoItem `json:"Item"`
		ConditionExpression       string     `json:"ConditionExpression"`
		ExpressionAttributeValues dynamoItem `json:"ExpressionAttributeValues"`
	}
	body := readBody(r)
	if err := json.Unmarshal(body, &req); err != nil || req.TableName == "" || len(req.Item) == 0 {
		writeDynamoError(w, http.StatusBadRequest, "ValidationException", "TableName and Item required")
		return
	}
	env := envFrom(r.Context())
	t, err := rt.Store.DynamoTable(r.Context(), env.ID, req.TableName)
	if err != nil {
		dynamoFault(w, err)
		return
	}
	hash, rng, err := itemKey(t, req.Item)
	if err != nil {
		dynamoFault(w, err)
		return
	}

	if req.ConditionExpression != "" {
		current, err := rt.loadItem(r, t, hash, rng)
		if err != nil {
			dynamoFault(w, err)
			return
		}
		ok, err := evalCondition(req.ConditionExpression, current, req.ExpressionAttributeValues)
		if err != nil {
			dynamoFault(w, err)
			return
		}
		if !ok {
			writeDynamoError(w, http.StatusBadRequest, "ConditionalCheckFailedException",
				"the conditional request failed")
			return
		}
	}

	attrs, _ := json.Marshal(req.Item)
	err = rt.Store.PutDynamoItem(r.Context(), &store.DynamoItem{
		TableID:    t.ID,
		HashValue:  hash,
		RangeValue: rng,
		AttrsJSON:  string(attrs),
	})
	if err != nil {
		dynamoFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// loadItem fetches the current item, mapping NotFound to a nil item.
func (rt *Router) loadItem(r *http.Request, t *store.DynamoTable, hash, rng string) (dynamoItem, error) {
	row, err := rt.Store.DynamoItem(r.Context(), t.ID, hash, rng)
	if errors.Is(err, fault.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var item dynamoItem
	if err := json.Unmarshal([]byte(row.AttrsJSON), &item); err != nil {
		return nil, err
	}
	return item, nil
}

func (rt *Router) dynamoGetItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TableName string     `json:"TableName"`
		Key       dynamoItem `json:"Key"`
	}
	if err := json.Unmarshal(readBody(r), &req); err != nil || req.TableName == "" {
		writeDynamoError(w, http.StatusBadRequest, "ValidationException", "TableName and Key required")
		return
	}
	env := envFrom(r.Context())
	t, err := rt.Store.DynamoTable(r.Context(), env.ID, req.TableName)
	if err != nil {
		dynamoFault(w, err)
		return
	}
	hash, rng, err := itemKey(t, req.Key)
	if err != nil {
		dynamoFault(w, err)
		return
	}
	item, err := rt.loadItem(r, t, hash, rng)
	if err != nil {
		dynamoFault(w, err)
		return
	}
	if item == nil {
		// GetItem on a missing key returns an empty response, not an error.
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Item": item})
}

func (rt *Router) dynamoDeleteItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TableName                 string     `json:"TableName"`
		Key                       dynamoItem `json:"Key"`
		ConditionExpression       string     `json:"ConditionExpression"`
		ExpressionAttributeValues dynamoItem `json:"ExpressionAttributeValues"`
	}
	if err := json.Unmarshal(readBody(r), &req); err != nil || req.TableName == "" {
		writeDynamoError(w, http.StatusBadRequest, "ValidationException", "TableName and Key required")
		return
	}
	env := envFrom(r.Context())
	t, err := rt.Store.DynamoTable(r.Context(), env.ID, req.TableName)
	if err != nil {
		dynamoFault(w, err)
		return
	}
	hash, rng, err := itemKey(t, req.Key)
	if err != nil {
		dynamoFault(w, err)
		return
	}
	if req.ConditionExpression != "" {
		current, err := rt.loadItem(r, t, hash, rng)
		if err != nil {
			dynamoFault(w, err)
			return
		}
		ok, err := evalCondition(req.ConditionExpression, current, req.ExpressionAttributeValues)
		if err != nil {
			dynamoFault(w, err)
			return
		}
		if !ok {
			writeDynamoError(w, http.StatusBadRequest, "ConditionalCheckFailedException",
				"the conditional request failed")
			return
		}
	}
	if err := rt.Store.DeleteDynamoItem(r.Context(), t.ID, hash, rng); err != nil {
		dynamoFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// dynamoQuery supports hash-key equality: `hk = :v` with the value bound in
// ExpressionAttributeValues.
func (rt *Router) dynamoQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TableName                 string     `json:"TableName"`
		KeyConditionExpression    string     `json:"KeyConditionExpression"`
		ExpressionAttributeValues dynamoItem `json:"ExpressionAttributeValues"`
	}
	if err := json.Unmarshal(readBody(r), &req); err != nil || req.TableName == "" {
		writeDynamoError(w, http.StatusBadRequest, "ValidationException", "TableName required")
		return
	}
	env := envFrom(r.Context())
	t, err := rt.Store.DynamoTable(r.Context(), env.ID, req.TableName)
	if err != nil {
		dynamoFault(w, err)
		return
	}
	parts := strings.SplitN(req.KeyConditionExpression, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) != t.HashKey {
		writeDynamoError(w, http.StatusBadRequest, "ValidationException",
			"only hash-key equality is supported")
		return
	}
	want, ok := req.ExpressionAttributeValues[strings.TrimSpace(parts[1])]
	if !ok {
		writeDynamoError(w, http.StatusBadRequest, "ValidationException", "unbound key value")
		return
	}
	hash, ok := avScalar(want)
	if !ok {
		writeDynamoError(w, http.StatusBadRequest, "ValidationException", "unsupported key value type")
		return
	}
	rows, err := rt.Store.QueryDynamoItems(r.Context(), t.ID, hash)
	if err != nil {
		dynamoFault(w, err)
		return
	}
	rt.writeItems(w, rows)
}

func (rt *Router) dynamoScan(w http.ResponseWriter, r *http.Request) {
	t, err := rt.tableFromBody(r, readBody(r))
	if err != nil {
		dynamoFault(w, err)
		return
	}
	rows, err := rt.Store.ScanDynamoItems(r.Context(), t.ID)
	if err != nil {
		dynamoFault(w, err)
		return
	}
	rt.writeItems(w, rows)
}

func (rt *Router) writeItems(w http.ResponseWriter, rows []*store.DynamoItem) {
	items := make([]dynamoItem, 0, len(rows))
	for _, row := range rows {
		var item dynamoItem
		if err := json.Unmarshal([]byte(row.AttrsJSON), &item); err != nil {
			dynamoFault(w, err)
			return
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"Items": items,
		"Count": len(items),
	})
}
