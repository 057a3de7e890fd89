// Package awstest provides in-memory stand-ins for the DynamoDB, SQS and
// CloudWatch clients. The DynamoDB fake evaluates the condition and update
// expressions the stores emit and applies TransactWriteItems all-or-nothing.
package awstest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

type table struct {
	pk, sk string
	items  map[string]map[string]types.AttributeValue
	order  []string
}

// Dynamo is a goroutine-safe DynamoDB fake.
type Dynamo struct {
	mu       sync.Mutex
	tables   map[string]*table
	failures map[string][]error
	calls    map[string]int

	// Hook, when set, runs before each operation without holding the lock.
	Hook func(op string)
}

func NewDynamo() *Dynamo {
	return &Dynamo{
		tables:   map[string]*table{},
		failures: map[string][]error{},
		calls:    map[string]int{},
	}
}

// CreateTable registers a table; sk may be empty.
func (d *Dynamo) CreateTable(name, pk, sk string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &table{pk: pk, sk: sk, items: map[string]map[string]types.AttributeValue{}}
}

// FailNext queues err to be returned by the next call of op (e.g. "TransactWriteItems").
func (d *Dynamo) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = append(d.failures[op], err)
}

// TransactionConflict builds the cancellation DynamoDB returns when another
// transaction is writing item at of an n-item TransactWriteItems.
func TransactionConflict(n, at int) error {
	reasons := make([]types.CancellationReason, n)
	codes := make([]string, n)
	for i := range reasons {
		codes[i] = "None"
		if i == at {
			codes[i] = "TransactionConflict"
		}
		reasons[i] = types.CancellationReason{Code: strPtr(codes[i])}
	}
	return &types.TransactionCanceledException{
		Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons [" + strings.Join(codes, ", ") + "]"),
		CancellationReasons: reasons,
	}
}

// Calls returns how many times op was invoked.
func (d *Dynamo) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Items returns copies of every item in a table in insertion order.
func (d *Dynamo) Items(name string) []map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[name]
	if !ok {
		return nil
	}
	out := make([]map[string]types.AttributeValue, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, copyItem(t.items[k]))
	}
	return out
}

// Count returns the number of items in a table.
func (d *Dynamo) Count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tables[name]; ok {
		return len(t.items)
	}
	return 0
}

// Seed writes an item directly, bypassing conditions.
func (d *Dynamo) Seed(name string, item map[string]types.AttributeValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tables[name]
	k, err := t.key(item)
	if err != nil {
		panic(err)
	}
	t.put(k, copyItem(item))
}

// Mutate rewrites an existing item in place, bypassing conditions. Tests use
// it to simulate drift between a cached counter and its source of truth.
func (d *Dynamo) Mutate(name string, key map[string]types.AttributeValue, fn func(map[string]types.AttributeValue)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tables[name]
	k, err := t.key(key)
	if err != nil {
		panic(err)
	}
	if item, ok := t.items[k]; ok {
		fn(item)
	}
}

func (d *Dynamo) begin(op string) error {
	if d.Hook != nil {
		d.Hook(op)
	}
	d.mu.Lock()
	d.calls[op]++
	if q := d.failures[op]; len(q) > 0 {
		err := q[0]
		d.failures[op] = q[1:]
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *Dynamo) table(name *string) (*table, error) {
	if name == nil {
		return nil, apiError("ValidationException", "TableName is required")
	}
	t, ok := d.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("Requested resource not found: " + *name)}
	}
	return t, nil
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	if err := d.begin("PutItem"); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	t, err := d.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.key(in.Item)
	if err != nil {
		return nil, err
	}
	existing := t.items[k]
	ok, err := evalCondition(deref(in.ConditionExpression), orEmpty(existing), exprEnv{in.ExpressionAttributeNames, in.ExpressionAttributeValues})
	if err != nil {
		return nil, apiError("ValidationException", err.Error())
	}
	if !ok {
		e := &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		if in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld && existing != nil {
			e.Item = copyItem(existing)
		}
		return nil, e
	}
	t.put(k, copyItem(in.Item))
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	if err := d.begin("GetItem"); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	t, err := d.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.key(in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	if err := d.begin("UpdateItem"); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	t, err := d.table(in.TableName)
	if err != nil {
		return nil, err
	}
	env := exprEnv{in.ExpressionAttributeNames, in.ExpressionAttributeValues}
	k, existing, next, err := t.prepareUpdate(in.Key, deref(in.ConditionExpression), deref(in.UpdateExpression), env)
	if err != nil {
		if ccf, ok := err.(*types.ConditionalCheckFailedException); ok {
			if in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld && existing != nil {
				ccf.Item = copyItem(existing)
			}
		}
		return nil, err
	}
	t.put(k, next)
	out := &dyn.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllNew, types.ReturnValueUpdatedNew:
		out.Attributes = copyItem(next)
	case types.ReturnValueAllOld, types.ReturnValueUpdatedOld:
		out.Attributes = copyItem(existing)
	}
	return out, nil
}

func (d *Dynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	if err := d.begin("Query"); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	t, err := d.table(in.TableName)
	if err != nil {
		return nil, err
	}
	env := exprEnv{in.ExpressionAttributeNames, in.ExpressionAttributeValues}
	keys := t.sortedKeys(in.IndexName == nil, in.ScanIndexForward == nil || *in.ScanIndexForward)
	var matched []string
	for _, k := range keys {
		ok, err := evalCondition(deref(in.KeyConditionExpression), t.items[k], env)
		if err != nil {
			return nil, apiError("ValidationException", err.Error())
		}
		if ok {
			matched = append(matched, k)
		}
	}
	page, last, err := t.page(matched, in.ExclusiveStartKey, in.Limit)
	if err != nil {
		return nil, err
	}
	out := &dyn.QueryOutput{LastEvaluatedKey: last}
	for _, k := range page {
		item := t.items[k]
		ok, err := evalCondition(deref(in.FilterExpression), item, env)
		if err != nil {
			return nil, apiError("ValidationException", err.Error())
		}
		if ok {
			out.Items = append(out.Items, copyItem(item))
		}
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(len(page))
	return out, nil
}

func (d *Dynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	if err := d.begin("Scan"); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	t, err := d.table(in.TableName)
	if err != nil {
		return nil, err
	}
	env := exprEnv{in.ExpressionAttributeNames, in.ExpressionAttributeValues}
	page, last, err := t.page(t.order, in.ExclusiveStartKey, in.Limit)
	if err != nil {
		return nil, err
	}
	out := &dyn.ScanOutput{LastEvaluatedKey: last}
	for _, k := range page {
		item := t.items[k]
		ok, err := evalCondition(deref(in.FilterExpression), item, env)
		if err != nil {
			return nil, apiError("ValidationException", err.Error())
		}
		if ok {
			out.Items = append(out.Items, copyItem(item))
		}
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(len(page))
	return out, nil
}

type pendingWrite struct {
	t    *table
	key  string
	item map[string]types.AttributeValue // nil means delete
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	if err := d.begin("TransactWriteItems"); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	if len(in.TransactItems) == 0 || len(in.TransactItems) > 100 {
		return nil, apiError("ValidationException", fmt.Sprintf("transaction must contain 1..100 items, got %d", len(in.TransactItems)))
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	writes := make([]pendingWrite, 0, len(in.TransactItems))
	seen := map[string]bool{}
	cancelled := false

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}

		var (
			tableName *string
			key       map[string]types.AttributeValue
			cond      string
			env       exprEnv
			retOld    types.ReturnValuesOnConditionCheckFailure
		)
		switch {
		case ti.Put != nil:
			tableName, cond, retOld = ti.Put.TableName, deref(ti.Put.ConditionExpression), ti.Put.ReturnValuesOnConditionCheckFailure
			env = exprEnv{ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues}
			key = ti.Put.Item
		case ti.Update != nil:
			tableName, cond, retOld = ti.Update.TableName, deref(ti.Update.ConditionExpression), ti.Update.ReturnValuesOnConditionCheckFailure
			env = exprEnv{ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues}
			key = ti.Update.Key
		case ti.Delete != nil:
			tableName, cond, retOld = ti.Delete.TableName, deref(ti.Delete.ConditionExpression), ti.Delete.ReturnValuesOnConditionCheckFailure
			env = exprEnv{ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues}
			key = ti.Delete.Key
		case ti.ConditionCheck != nil:
			tableName, cond, retOld = ti.ConditionCheck.TableName, deref(ti.ConditionCheck.ConditionExpression), ti.ConditionCheck.ReturnValuesOnConditionCheckFailure
			env = exprEnv{ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues}
			key = ti.ConditionCheck.Key
		default:
			return nil, apiError("ValidationException", "empty TransactWriteItem")
		}

		t, err := d.table(tableName)
		if err != nil {
			return nil, err
		}
		k, err := t.key(key)
		if err != nil {
			return nil, err
		}
		if seen[*tableName+"|"+k] {
			return nil, apiError("ValidationException", "Transaction request cannot include multiple operations on one item")
		}
		seen[*tableName+"|"+k] = true

		existing := t.items[k]
		ok, err := evalCondition(cond, orEmpty(existing), env)
		if err != nil {
			return nil, apiError("ValidationException", err.Error())
		}
		if !ok {
			cancelled = true
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed"), Message: strPtr("The conditional request failed")}
			if retOld == types.ReturnValuesOnConditionCheckFailureAllOld && existing != nil {
				reasons[i].Item = copyItem(existing)
			}
			continue
		}

		switch {
		case ti.Put != nil:
			writes = append(writes, pendingWrite{t: t, key: k, item: copyItem(ti.Put.Item)})
		case ti.Update != nil:
			next := copyItem(orEmpty(existing))
			for name, v := range ti.Update.Key {
				next[name] = v
			}
			if err := applyUpdate(deref(ti.Update.UpdateExpression), next, env); err != nil {
				return nil, apiError("ValidationException", err.Error())
			}
			writes = append(writes, pendingWrite{t: t, key: k, item: next})
		case ti.Delete != nil:
			writes = append(writes, pendingWrite{t: t, key: k})
		}
	}

	if cancelled {
		codes := make([]string, len(reasons))
		for i, r := range reasons {
			codes[i] = *r.Code
		}
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons [" + strings.Join(codes, ", ") + "]"),
			CancellationReasons: reasons,
		}
	}

	for _, w := range writes {
		if w.item == nil {
			w.t.delete(w.key)
			continue
		}
		w.t.put(w.key, w.item)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (t *table) key(item map[string]types.AttributeValue) (string, error) {
	pk, ok := item[t.pk]
	if !ok {
		return "", apiError("ValidationException", "missing key attribute "+t.pk)
	}
	k := scalar(pk)
	if t.sk != "" {
		sk, ok := item[t.sk]
		if !ok {
			return "", apiError("ValidationException", "missing key attribute "+t.sk)
		}
		k += "\x00" + scalar(sk)
	}
	return k, nil
}

func (t *table) keyAttrs(k string) map[string]types.AttributeValue {
	item := t.items[k]
	out := map[string]types.AttributeValue{t.pk: item[t.pk]}
	if t.sk != "" {
		out[t.sk] = item[t.sk]
	}
	return out
}

func (t *table) put(k string, item map[string]types.AttributeValue) {
	if _, exists := t.items[k]; !exists {
		t.order = append(t.order, k)
	}
	t.items[k] = item
}

func (t *table) delete(k string) {
	if _, exists := t.items[k]; !exists {
		return
	}
	delete(t.items, k)
	for i, o := range t.order {
		if o == k {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *table) prepareUpdate(key map[string]types.AttributeValue, cond, update string, env exprEnv) (string, map[string]types.AttributeValue, map[string]types.AttributeValue, error) {
	k, err := t.key(key)
	if err != nil {
		return "", nil, nil, err
	}
	existing := t.items[k]
	ok, err := evalCondition(cond, orEmpty(existing), env)
	if err != nil {
		return k, existing, nil, apiError("ValidationException", err.Error())
	}
	if !ok {
		return k, existing, nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	next := copyItem(orEmpty(existing))
	for name, v := range key {
		next[name] = v
	}
	if err := applyUpdate(update, next, env); err != nil {
		return k, existing, nil, apiError("ValidationException", err.Error())
	}
	return k, existing, next, nil
}

// sortedKeys orders base-table reads by sort key; index reads keep insertion order.
func (t *table) sortedKeys(byKey, forward bool) []string {
	keys := append([]string(nil), t.order...)
	if byKey && t.sk != "" {
		sort.SliceStable(keys, func(i, j int) bool {
			a, b := t.items[keys[i]][t.sk], t.items[keys[j]][t.sk]
			c, _ := compare(a, b)
			return c < 0
		})
	}
	if !forward {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	return keys
}

func (t *table) page(keys []string, start map[string]types.AttributeValue, limit *int32) ([]string, map[string]types.AttributeValue, error) {
	from := 0
	if len(start) > 0 {
		sk, err := t.key(start)
		if err != nil {
			return nil, nil, err
		}
		from = len(keys)
		for i, k := range keys {
			if k == sk {
				from = i + 1
				break
			}
		}
	}
	rest := keys[from:]
	if limit == nil || int(*limit) >= len(rest) {
		return rest, nil, nil
	}
	page := rest[:*limit]
	return page, t.keyAttrs(page[len(page)-1]), nil
}

func scalar(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return string(v.Value)
	}
	return fmt.Sprintf("%v", av)
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = copyAV(v)
	}
	return out
}

func copyAV(av types.AttributeValue) types.AttributeValue {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: v.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: v.Value}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: v.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: v.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), v.Value...)}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberL:
		l := make([]types.AttributeValue, len(v.Value))
		for i, e := range v.Value {
			l[i] = copyAV(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: copyItem(v.Value)}
	}
	return av
}

func orEmpty(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return map[string]types.AttributeValue{}
	}
	return item
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }

func apiError(code, msg string) error {
	return &smithy.GenericAPIError{Code: code, Message: msg}
}
