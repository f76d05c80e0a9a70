package query

// dependencies is the set of reads a single query evaluation performed:
// bucket-level reads subsume any record-level reads on the same bucket,
// per spec section 4.6.
type dependencies struct {
	bucketLevel map[string]bool
	recordLevel map[string]map[string]bool
}

func newDependencies() *dependencies {
	return &dependencies{
		bucketLevel: map[string]bool{},
		recordLevel: map[string]map[string]bool{},
	}
}

func (d *dependencies) addBucket(bucketName string) {
	d.bucketLevel[bucketName] = true
	delete(d.recordLevel, bucketName)
}

func (d *dependencies) addRecord(bucketName, key string) {
	if d.bucketLevel[bucketName] {
		return
	}
	keys, ok := d.recordLevel[bucketName]
	if !ok {
		keys = map[string]bool{}
		d.recordLevel[bucketName] = keys
	}
	keys[key] = true
}
