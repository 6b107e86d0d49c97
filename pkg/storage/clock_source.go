package storage

import "time"

// nowFunc supplies the wall-clock time every backend compares row and batch
// expiry against.
var nowFunc = time.Now
