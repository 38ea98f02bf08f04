// Package authclient calls a REST backend with a bearer access token and
// transparently recovers from an expired token.
//
// Every call carries "Authorization: Bearer <token>". When the backend answers
// 401 or 403, the client POSTs to the refresh endpoint once, stores the token
// it returns and replays the original call exactly once. Whatever happens, a
// failed call returns either a *RequestError (the backend's own message and
// status) or an *InternalError whose message is always "Internal server error".
//
//	c, err := authclient.New("https://api.example.com", token, "/refresh")
//	posts, err := authclient.GetAll[[]Post](ctx, c, "/posts")
//
// Concurrent calls that hit an expired token share a single refresh.
package authclient
