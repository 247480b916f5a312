// Package telemetry streams flight state to ground-station clients
// over websockets. Delivery is best effort: a slow client drops
// records, it never stalls the control loops.
package telemetry

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// Room fans broadcast messages out to every connected client.
type Room struct {
	// forward holds outbound messages to be fanned out.
	forward chan []byte
	// join and leave carry clients entering and leaving the room.
	join  chan *client
	leave chan *client
	// clients holds all current clients.
	clients map[*client]bool
}

// NewRoom makes a room that is ready to run.
func NewRoom() *Room {
	return &Room{
		forward: make(chan []byte, messageBufferSize),
		join:    make(chan *client),
		leave:   make(chan *client),
		clients: make(map[*client]bool),
	}
}

// Run owns the client set; it loops until the process exits.
func (r *Room) Run() {
	for {
		select {
		case client := <-r.join:
			r.clients[client] = true
			log.Println("TELEM: client joined")
		case client := <-r.leave:
			delete(r.clients, client)
			close(client.send)
			log.Println("TELEM: client left")
		case msg := <-r.forward:
			for client := range r.clients {
				select {
				case client.send <- msg:
				default:
					// Client can't keep up; this record is lost to it.
				}
			}
		}
	}
}

// Broadcast queues msg for every client. It never blocks; when the
// room's buffer is full the record is dropped.
func (r *Room) Broadcast(msg []byte) bool {
	select {
	case r.forward <- msg:
		return true
	default:
		return false
	}
}

const (
	socketBufferSize  = 1024
	messageBufferSize = 16
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

// ServeHTTP upgrades the connection and joins the client to the room.
func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Println("TELEM: upgrade:", err)
		return
	}
	client := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
		room:   r,
	}
	r.join <- client
	defer func() { r.leave <- client }()
	go client.write()
	client.read()
}

type client struct {
	socket *websocket.Conn
	send   chan []byte
	room   *Room
}

// read drains inbound messages until the client disconnects. Clients
// are read-only consumers; anything they send is discarded.
func (c *client) read() {
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			break
		}
	}
	c.socket.Close()
}

func (c *client) write() {
	for msg := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	c.socket.Close()
}
