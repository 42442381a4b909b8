package redis

// Key prefixes for primary entity storage. Jobs are keyed by event ID so an
// event can never be queued twice.
const (
	prefixEventType    = "hookline:evtype:"
	prefixRegistration = "hookline:reg:"
	prefixEvent        = "hookline:evt:"
	prefixJob          = "hookline:job:"
	prefixDLQ          = "hookline:dlq:"
)

// Key prefixes for unique indexes.
const (
	uniqueEventTypeName = "hookline:u:evtype:name:"
	uniqueRegSecret     = "hookline:u:reg:secret:"
)

// Key prefix for the consecutive-failure counter, kept outside the entity
// record so increments stay atomic under concurrent workers.
const ctrRegFailures = "hookline:ctr:reg:failures:"

// Key prefixes for sorted set indexes.
const (
	zEventTypeAll   = "hookline:z:evtype:all"
	zEventTypeGroup = "hookline:z:evtype:group:" // + group name
	zRegTenant      = "hookline:z:reg:tenant:"   // + tenant ID
	zEventAll       = "hookline:z:evt:all"
	zEventTenant    = "hookline:z:evt:tenant:" // + tenant ID
	zEventReg       = "hookline:z:evt:reg:"    // + registration ID
	zJobPending     = "hookline:z:job:pending"
	zDLQAll         = "hookline:z:dlq:all"
	zDLQTenant      = "hookline:z:dlq:tenant:" // + tenant ID
	zDLQReg         = "hookline:z:dlq:reg:"    // + registration ID
)

// Key prefixes for set indexes.
const (
	sEventTypeActive = "hookline:s:evtype:active"
	sRegActive       = "hookline:s:reg:tenant:" // + tenantID + ":active"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// activeSetKey returns the set key for active registrations of a tenant.
func activeSetKey(tenantID string) string {
	return sRegActive + tenantID + ":active"
}
