package stability_test

import "time"

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
