// Package wellnessid implements consumer enrollment and login for the
// Wellness ID service: federated signup through Kakao and Naver, first-party
// handle/password signup, real-name identity verification, duplicate-account
// detection, and a minimum-age gate.
//
// # Design
//
// All flow state between requests lives in a signed session token
// (TokenCodec) carried as a cookie. A Principal is either provisional (an
// enrollment in progress, no account row yet) or durable (backed by an
// Account). The Enrollment and Login orchestrators make every decision and
// return a Result; the HTTP surface in Service and the gRPC interceptor only
// translate Results to their transports.
//
// The account repository (AccountStore) enforces uniqueness of external ids,
// emails, handles and phone numbers at the constraint level. Three backends
// ship in stores/: a filesystem store for development, a GORM store for
// relational databases, and a Cloud Datastore store.
//
// # Usage
//
//	accounts := stores.NewFSAccountStore("./data")
//	enrollment := &wellnessid.Enrollment{
//		Accounts: accounts,
//		Providers: map[wellnessid.Provider]oauth2.Gateway{
//			wellnessid.ProviderKakao: oauth2.NewKakao(id, secret, callback),
//			wellnessid.ProviderNaver: oauth2.NewNaver(id, secret, callback),
//		},
//		Verifier: verify.NewHTTPGateway(baseURL, clientID, clientSecret),
//	}
//	service := &wellnessid.Service{
//		Enrollment: enrollment,
//		Codec:      &wellnessid.TokenCodec{},
//	}
//	http.ListenAndServe(":8080", service.Handler())
package wellnessid
