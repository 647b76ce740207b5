// Package weather is the upstream source for livefeed snapshots: current
// conditions for one city from the OpenWeatherMap /data/2.5/weather endpoint.
//
// Provider.Fetch performs one HTTP GET (with bounded retries and a circuit
// breaker), then Parse reduces the response to a Report holding the first
// weather condition plus the main and wind blocks. Failures are wrapped with
// types.ErrFetch (transport, non-2xx status, open breaker) or types.ErrParse
// (malformed JSON, empty weather array, main or wind missing or not objects).
//
// The three blocks are kept as raw JSON. Fields inside them are neither
// required nor type-checked, so upstream additions flow through untouched.
package weather
