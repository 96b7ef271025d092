// Package gobayeux provides both a low-level protocol client and a
// higher-level client that improves the ergonomics of talking to a server
// implementing the Bayeux Protocol over HTTP long polling.
//
// The best way to create a high-level client is with `NewClient`. Provided a
// server address for the server you're using, you can create a client like so
//
//	serverAddress := "https://localhost:8080/"
//	client, err := gobayeux.NewClient(serverAddress)
//
// You can also register customer HTTP transports with your client
//
//	transport := &http.Transport{
//		DialContext: (&net.Dialer{
//	  	Timeout:   3 * time.Second,
//	  	KeepAlive: 10 * time.Second,
//	  }).DialContext,
//	}
//	client, err := gobayeux.NewClient(serverAddress, gobayeux.WithHTTPTransport(transport))
//
// You can subscribe to a Bayeux Channel with a chan to receive messages on
//
//	recv := make(chan []gobayeux.Message)
//	client.Subscribe("/example/channel", recv)
//	errs := client.Start(ctx)
//
// The session itself is a BayeuxClient. It follows the reconnect advice of
// the server, so Handshake, Publish and Subscribe never block; their outcome
// is delivered to the listeners of the matching channels
//
//	session, err := gobayeux.NewBayeuxClient(serverAddress)
//	handshakes, err := session.Channel(gobayeux.MetaHandshake)
//	handshakes.AddListener(func(_ *gobayeux.SessionChannel, m gobayeux.Message) {
//		log.Println("handshake successful:", m.Successful())
//	})
//	state, err := session.HandshakeAndWait(nil, 10*time.Second)
//	sub, err := session.Subscribe("/chat/**", func(c *gobayeux.SessionChannel, m gobayeux.Message) {
//		fmt.Println(c.Channel(), m.Data())
//	})
//
// You can also register extensions that you'd like to use with the server
// by implementing the Extension interface, usually by embedding
// BaseExtension, and then passing it to the client
//
//	type Example struct {
//		gobayeux.BaseExtension
//	}
//
//	func (e *Example) SendMeta(client *gobayeux.BayeuxClient, m gobayeux.Message) bool {
//		if m.Channel() == gobayeux.MetaHandshake {
//			m.GetExt(true)["example"] = true
//		}
//		return true
//	}
//
//	session.AddExtension(&Example{})
package gobayeux
